// Command guts-node runs a Guts validator/storage node: the BFT consensus
// engine, the git object/reference stores, the P2P replication protocol,
// and the git smart-HTTP + consensus-inspection HTTP surface.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/guts-org/guts-node/app"
	"github.com/guts-org/guts-node/block"
	"github.com/guts-org/guts-node/config"
	"github.com/guts-org/guts-node/consensus"
	"github.com/guts-org/guts-node/crypto/certgen"
	"github.com/guts-org/guts-node/events"
	"github.com/guts-org/guts-node/mempool"
	"github.com/guts-org/guts-node/network"
	"github.com/guts-org/guts-node/objstore"
	"github.com/guts-org/guts-node/p2p"
	"github.com/guts-org/guts-node/repo"
	"github.com/guts-org/guts-node/storage"
	"github.com/guts-org/guts-node/storagetier"
	"github.com/guts-org/guts-node/txn"
	"github.com/guts-org/guts-node/wallet"
	"github.com/guts-org/guts-node/wiring"
)

var log = logrus.WithField("component", "main")

func main() {
	var cfgPath, keyPath string

	root := &cobra.Command{Use: "guts-node", Short: "Guts BFT git-collaboration node"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.json", "path to config file")
	root.PersistentFlags().StringVar(&keyPath, "key", "validator.key", "path to validator keystore file")

	root.AddCommand(genKeyCmd(&keyPath))
	root.AddCommand(genCertsCmd(&cfgPath))
	root.AddCommand(runCmd(&cfgPath, &keyPath))

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func keystorePassword() string {
	password := os.Getenv("GUTS_PASSWORD")
	if password == "" {
		log.Warn("GUTS_PASSWORD not set; keystore will use an empty password")
	}
	return password
}

func genKeyCmd(keyPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "generate a new validator key and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(*keyPath, keystorePassword(), w.PrivKey()); err != nil {
				return err
			}
			fmt.Printf("Generated key. Public key (validator identity): %s\n", w.PubKey())
			fmt.Printf("Saved to: %s\n", *keyPath)
			return nil
		},
	}
}

func genCertsCmd(cfgPath *string) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "gencerts",
		Short: "generate a CA + node TLS certificate pair and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := certgen.GenerateAll(dir, cfg.NodeID, nil); err != nil {
				return fmt.Errorf("gencerts: %w", err)
			}
			fmt.Printf("Certificates generated in %s for node %q\n", dir, cfg.NodeID)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "certs", "output directory for generated certificates")
	return cmd
}

func runCmd(cfgPath, keyPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(*cfgPath, *keyPath)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("config file not found at %s, using defaults", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func run(cfgPath, keyPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	privKey, err := wallet.LoadKey(keyPath, keystorePassword())
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	finalizedStore := storage.NewFinalizedStore(db)

	validators, err := config.BuildValidatorSet(cfg)
	if err != nil {
		return fmt.Errorf("validator set: %w", err)
	}

	emitter := events.NewEmitter()

	cacheCfg := storagetier.HybridConfig{
		HotMaxObjects:    cfg.Cache.HotMaxObjects,
		HotMaxBytes:      cfg.Cache.HotMaxBytes,
		PromoteThreshold: cfg.Cache.PromoteThreshold,
		Cache: storagetier.CacheConfig{
			MaxObjects:   cfg.Cache.CacheMaxObjects,
			MaxBytes:     cfg.Cache.CacheMaxBytes,
			WriteThrough: true,
		},
	}
	newStore := func(key string) objstore.Store {
		cold := storage.NewObjectStore(db, key)
		hybrid, err := storagetier.NewHybridStorage(cold, cacheCfg)
		if err != nil {
			log.WithError(err).Fatalf("build hybrid storage for %s", key)
		}
		return hybrid
	}
	registry := repo.NewRegistry(newStore)

	application := app.New(registry, emitter)

	mp := mempool.New(mempool.Config{
		MaxTransactions:         cfg.Mempool.MaxTransactions,
		MaxTransactionAge:       cfg.Mempool.MaxTransactionAge(),
		MaxTransactionsPerBlock: cfg.Mempool.MaxTransactionsPerBlock,
	})

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		log.Info("mTLS enabled for P2P and HTTP")
	}

	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node := network.NewNode(cfg.NodeID, p2pAddr, tlsCfg)

	proto := p2p.New(registry, node)
	node.Handle(network.MsgReplication, func(peer *network.Peer, msg network.Message) {
		proto.Dispatch(peer.ID, msg.Payload)
	})

	engineCfg := consensus.Config{
		LeaderTimeout:         cfg.Consensus.LeaderTimeout(),
		NotarizationTimeout:   cfg.Consensus.NotarizationTimeout(),
		NullifyRetry:          cfg.Consensus.NullifyRetry(),
		ViewTimeoutMultiplier: cfg.Consensus.ViewTimeoutMultiplier,
		MaxLeaderTimeout:      cfg.Consensus.MaxLeaderTimeout(),
		ConsensusEnabled:      cfg.Consensus.Enabled,
	}
	engine := consensus.New(engineCfg, validators, mp, application, emitter, node, privKey)
	engine.SetPersister(finalizedStore)

	node.Handle(network.MsgConsensus, func(peer *network.Peer, msg network.Message) {
		env, err := consensus.DecodeEnvelope(msg.Payload)
		if err != nil {
			log.WithField("peer", peer.ID).Warnf("malformed consensus message: %v", err)
			return
		}
		engine.Deliver(env)
	})
	node.Handle(network.MsgTransaction, func(peer *network.Peer, msg network.Message) {
		var tx txn.Transaction
		if err := json.Unmarshal(msg.Payload, &tx); err != nil {
			log.WithField("peer", peer.ID).Warnf("malformed gossiped transaction: %v", err)
			return
		}
		if err := engine.SubmitTransaction(&tx); err != nil {
			log.WithField("peer", peer.ID).Debugf("gossiped transaction rejected: %v", err)
		}
	})

	// ---- bring up genesis, if this is a fresh chain ----
	if tip, err := finalizedStore.Tip(); err != nil {
		return fmt.Errorf("read chain tip: %w", err)
	} else if tip == "" {
		stateRoot := application.ComputeStateRoot(nil)
		genesisBlock := config.BuildGenesisBlock(privKey.Public().Hex(), stateRoot)
		genesisBlock.Sign(privKey)
		if err := finalizedStore.PutFinalized(&block.Finalized{Block: genesisBlock}); err != nil {
			return fmt.Errorf("persist genesis block: %w", err)
		}
		log.Infof("genesis block committed: %s", genesisBlock.ID())
	}

	if err := node.Start(); err != nil {
		return fmt.Errorf("p2p start: %w", err)
	}
	defer node.Stop()
	log.Infof("P2P listening on %s", p2pAddr)

	var dialGroup errgroup.Group
	for _, sp := range cfg.SeedPeers {
		sp := sp
		dialGroup.Go(func() error {
			if err := node.AddPeer(sp.ID, sp.Addr); err != nil {
				log.WithField("peer", sp.ID).Warnf("connect seed peer: %v", err)
				return nil
			}
			log.Infof("connected to seed peer %s (%s)", sp.ID, sp.Addr)
			return nil
		})
	}
	dialGroup.Wait()

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpServer := wiring.NewServer(httpAddr, wiring.Deps{
		Registry:   registry,
		Protocol:   proto,
		Engine:     engine,
		Mempool:    mp,
		Validators: validators,
		Finalized:  finalizedStore,
		AuthToken:  cfg.RPCAuthToken,
		TLSConfig:  tlsCfg,
	})
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("http start: %w", err)
	}
	defer httpServer.Stop()
	log.Infof("HTTP listening on %s", httpAddr)
	if cfg.RPCAuthToken != "" {
		log.Info("HTTP Bearer token authentication enabled")
	}

	engine.Start()
	defer engine.Stop()
	log.Infof("consensus running (validator: %s, enabled: %v)", privKey.Public().Hex(), cfg.Consensus.Enabled)

	reapTicker := time.NewTicker(1 * time.Minute)
	defer reapTicker.Stop()
	stopReaper := make(chan struct{})
	defer close(stopReaper)
	go func() {
		for {
			select {
			case <-reapTicker.C:
				if n := mp.ReapExpired(); n > 0 {
					log.Infof("reaped %d expired mempool entries", n)
				}
			case <-stopReaper:
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")
	return nil
}
