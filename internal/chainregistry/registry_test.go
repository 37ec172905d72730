package chainregistry

import "testing"

func sampleNetworks() []*Network {
	return []*Network{
		{Name: "sepolia", Platform: PlatformEVM, ChainID: "11155111", Enabled: true},
		{Name: "mainnet", Platform: PlatformEVM, ChainID: "1", Enabled: true},
	}
}

func TestNewRejectsUnknownActive(t *testing.T) {
	if _, err := New(sampleNetworks(), "polygon"); err == nil {
		t.Fatalf("expected error when active network is not in the network list")
	}
}

func TestGetAndActive(t *testing.T) {
	r, err := New(sampleNetworks(), "sepolia")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n, ok := r.Get("sepolia")
	if !ok || n.Name != "sepolia" {
		t.Fatalf("Get(sepolia) = %+v, %v", n, ok)
	}
	active, ok := r.Active()
	if !ok || active.Name != "sepolia" {
		t.Fatalf("Active() = %+v, %v, want sepolia", active, ok)
	}
	if _, ok := r.Get("nope"); ok {
		t.Fatalf("Get(nope) should not be found")
	}
}

func TestListReturnsAllNetworks(t *testing.T) {
	r, err := New(sampleNetworks(), "sepolia")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := len(r.List()); got != 2 {
		t.Fatalf("List() len = %d, want 2", got)
	}
}

func TestSetActiveSwitchesAtomically(t *testing.T) {
	r, err := New(sampleNetworks(), "sepolia")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.SetActive("mainnet"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	active, _ := r.Active()
	if active.Name != "mainnet" {
		t.Fatalf("Active().Name = %q, want mainnet", active.Name)
	}
}

func TestSetActiveRejectsUnknownNetwork(t *testing.T) {
	r, err := New(sampleNetworks(), "sepolia")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.SetActive("polygon"); err == nil {
		t.Fatalf("expected error switching to an unconfigured network")
	}
	active, _ := r.Active()
	if active.Name != "sepolia" {
		t.Fatalf("active network should be unchanged after a rejected switch, got %q", active.Name)
	}
}

func TestUpsertDoesNotMutatePriorSnapshot(t *testing.T) {
	r, err := New(sampleNetworks(), "sepolia")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := r.List()

	r.Upsert(&Network{Name: "arbitrum", Platform: PlatformEVM, ChainID: "42161", Enabled: true})

	if len(before) != 2 {
		t.Fatalf("prior List() snapshot must not observe the Upsert, got len %d", len(before))
	}
	if len(r.List()) != 3 {
		t.Fatalf("List() after Upsert = %d, want 3", len(r.List()))
	}
	n, ok := r.Get("arbitrum")
	if !ok || n.ChainID != "42161" {
		t.Fatalf("Get(arbitrum) = %+v, %v", n, ok)
	}
}

func TestSetDeploymentUpdatesOnlyNamedNetwork(t *testing.T) {
	r, err := New(sampleNetworks(), "sepolia")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.SetDeployment("sepolia", Deployment{ContractAddress: "0xabc", DeployedAtBlock: 42}); err != nil {
		t.Fatalf("SetDeployment: %v", err)
	}
	n, _ := r.Get("sepolia")
	if n.Deployment.ContractAddress != "0xabc" || n.Deployment.DeployedAtBlock != 42 {
		t.Fatalf("Deployment = %+v, want {0xabc 42}", n.Deployment)
	}
	other, _ := r.Get("mainnet")
	if other.Deployment.ContractAddress != "" {
		t.Fatalf("SetDeployment must not affect other networks")
	}
}

func TestSetDeploymentRejectsUnknownNetwork(t *testing.T) {
	r, err := New(sampleNetworks(), "sepolia")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.SetDeployment("polygon", Deployment{}); err == nil {
		t.Fatalf("expected error for unknown network")
	}
}
