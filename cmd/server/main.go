// Copyright 2025 Certen Protocol
//
// cmd/server wires every internal component into one running service: env
// config load, in-memory or Firestore store selection, chain registry and
// per-network clients, the anchor pipeline, dispatcher, multi-sig
// coordinator, presence tracker, and HTTP façade, with graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/certen/iot-anchor/internal/anchorpipeline"
	"github.com/certen/iot-anchor/internal/chainclient"
	"github.com/certen/iot-anchor/internal/chainregistry"
	"github.com/certen/iot-anchor/internal/config"
	"github.com/certen/iot-anchor/internal/dispatcher"
	"github.com/certen/iot-anchor/internal/domain"
	"github.com/certen/iot-anchor/internal/eventbus"
	"github.com/certen/iot-anchor/internal/facade"
	"github.com/certen/iot-anchor/internal/multisig"
	"github.com/certen/iot-anchor/internal/presence"
	"github.com/certen/iot-anchor/internal/ratelimit"
	"github.com/certen/iot-anchor/internal/store"
	firestorestore "github.com/certen/iot-anchor/internal/store/firestore"
	"github.com/certen/iot-anchor/internal/store/memstore"
	"github.com/certen/iot-anchor/internal/zkp"
)

func main() {
	logger := log.New(log.Writer(), "[Main] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config validation failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("store init failed: %v", err)
	}
	defer closeStore()

	registry, clients, err := buildChains(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("chain registry init failed: %v", err)
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	bus := eventbus.New(eventbus.Config{
		SubQueueSize: cfg.SubQueueSize,
		HistorySize:  cfg.HistorySize,
		Logger:       log.New(log.Writer(), "[EventBus] ", log.LstdFlags),
	})

	zkpEngine := zkp.New(zkp.Config{
		ValidityWindow: cfg.ValidityWindow,
		Logger:         log.New(log.Writer(), "[ZKP] ", log.LstdFlags),
	})

	presenceTracker := presence.New(presence.Config{
		LiveWindow: cfg.LiveWindow,
		IdleWindow: cfg.IdleWindow,
		SweepEvery: cfg.SweepEvery,
		Sink:       bus,
		Logger:     log.New(log.Writer(), "[Presence] ", log.LstdFlags),
	})

	dispatch := dispatcher.New(dispatcher.Config{
		Registry:       registry,
		Clients:        clients,
		Store:          st,
		Sink:           bus,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Logger:         log.New(log.Writer(), "[Dispatcher] ", log.LstdFlags),
	})

	pipeline := anchorpipeline.New(anchorpipeline.Config{
		Store:      st,
		Sink:       bus,
		Dispatcher: dispatch,
		Interval:   cfg.BatchInterval,
		Logger:     log.New(log.Writer(), "[AnchorPipeline] ", log.LstdFlags),
	})

	coordinator := multisig.New(multisig.Config{
		Store:  st,
		Sink:   bus,
		Expiry: cfg.ProposalTTL,
		Logger: log.New(log.Writer(), "[MultiSig] ", log.LstdFlags),
	})
	coordinator.RegisterHandler(domain.KindRegisterDevice, registerDeviceHandler(st))

	limiter := ratelimit.New(ratelimit.Config{})

	fac := facade.New(facade.Config{
		Store:             st,
		ZKP:               zkpEngine,
		Pipeline:          pipeline,
		Dispatcher:        dispatch,
		MultiSig:          coordinator,
		Presence:          presenceTracker,
		Bus:               bus,
		Registry:          registry,
		Limiter:           limiter,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Logger:            log.New(log.Writer(), "[Facade] ", log.LstdFlags),
	})

	go presenceTracker.Run(ctx)
	go pipeline.Run(ctx)
	go coordinator.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: fac.Routes(),
	}

	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Println("shutdown signal received, draining connections")
	cancel()
	presenceTracker.Stop()
	pipeline.Stop()
	coordinator.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func buildStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "firestore":
		fs, err := firestorestore.New(ctx, firestorestore.Config{
			Enabled:         true,
			ProjectID:       cfg.Store.ProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
		})
		if err != nil {
			return nil, func() {}, err
		}
		return fs, func() { fs.Close() }, nil
	default:
		logger.Println("using in-memory store")
		return memstore.New(), func() {}, nil
	}
}

func buildChains(ctx context.Context, cfg *config.Config, logger *log.Logger) (*chainregistry.Registry, map[string]*chainclient.Client, error) {
	networks := make([]*chainregistry.Network, 0, len(cfg.Networks))
	clients := make(map[string]*chainclient.Client, len(cfg.Networks))

	for _, n := range cfg.Networks {
		networks = append(networks, &chainregistry.Network{
			Name:     n.Name,
			Platform: chainregistry.PlatformEVM,
			ChainID:  strconv.FormatInt(n.ChainID, 10),
			RPCURL:   n.RPCURL,
			Deployment: chainregistry.Deployment{
				ContractAddress: n.ContractAddress,
			},
			Enabled: true,
		})

		client, err := chainclient.New(ctx, chainclient.Config{
			URL:             n.RPCURL,
			ChainID:         n.ChainID,
			PrivateKeyHex:   cfg.SigningKey,
			ContractAddress: n.ContractAddress,
			RPCTimeout:      cfg.RPCTimeout,
		})
		if err != nil {
			logger.Printf("network %s: connect failed, leaving disabled: %v", n.Name, err)
			continue
		}
		clients[n.Name] = client
	}

	registry, err := chainregistry.New(networks, cfg.ActiveNetwork)
	if err != nil {
		return nil, nil, err
	}
	return registry, clients, nil
}

// registerDeviceHandler executes the side effect of an approved
// REGISTER_DEVICE proposal: the payload is the same shape the façade's
// POST /api/devices/register handler accepts.
func registerDeviceHandler(st store.Store) multisig.Handler {
	return func(ctx context.Context, payload []byte) error {
		var req struct {
			DeviceID         string `json:"device_id"`
			DeviceName       string `json:"device_name"`
			DeviceType       string `json:"device_type"`
			PublicCommitment string `json:"public_commitment"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("register device: invalid payload: %w", err)
		}
		commitmentBytes, err := hexDecode32(req.PublicCommitment)
		if err != nil {
			return fmt.Errorf("register device: invalid public_commitment: %w", err)
		}
		return st.PutNewDevice(ctx, &domain.Device{
			DeviceID:         req.DeviceID,
			DeviceName:       req.DeviceName,
			DeviceType:       req.DeviceType,
			PublicCommitment: commitmentBytes,
			RegisteredAt:     time.Now().Unix(),
			IsActive:         true,
		})
	}
}

func hexDecode32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
