package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trang393934/angelaithutrang-sub004/pkg/attest"
	"github.com/trang393934/angelaithutrang-sub004/pkg/auditlog"
	"github.com/trang393934/angelaithutrang-sub004/pkg/ledgergw"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func policyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and publish scoring policies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Parse and validate a policy document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := policy.LoadFile(args[0])
			if err != nil {
				return err
			}
			hash, err := snap.Hash()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "policy %s ok (%d action types, %s)\n", snap.Version, len(snap.ActionTypes), hash)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active policy as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd.Context())
			logger := commonRun(cfg)
			db, err := openDB(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			ps := policy.NewSQLStore(db)
			if err := ps.Init(cmd.Context()); err != nil {
				return err
			}
			snap, err := ps.Active(cmd.Context())
			if err != nil {
				return fmt.Errorf("no active policy: %w", err)
			}
			out, err := policy.Marshal(snap)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "publish <file>",
		Short: "Publish a policy document as the new active version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := policy.LoadFile(args[0])
			if err != nil {
				return err
			}
			cfg := configFrom(cmd.Context())
			a, err := newApp(cmd.Context(), cfg, commonRun(cfg))
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			if err := a.engine.PublishPolicy(cmd.Context(), snap, operatorName()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published policy %s\n", snap.Version)
			return nil
		},
	})
	return cmd
}

func operatorName() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

func auditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run audit sweeps and verify the audit log",
	}
	var seed uint64
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Sample recent passed actions and recheck them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd.Context())
			a, err := newApp(cmd.Context(), cfg, commonRun(cfg))
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			if seed == 0 {
				seed = uint64(time.Now().UnixNano()) //nolint:gosec // wall clock is positive
			}
			rep, err := a.engine.AuditSweep(cmd.Context(), seed)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	sweep.Flags().Uint64Var(&seed, "seed", 0, "sampling seed; 0 picks one from the clock")
	cmd.AddCommand(sweep)
	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the persisted audit hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd.Context())
			logger := commonRun(cfg)
			db, err := openDB(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			store := auditlog.NewSQLStore(db)
			if err := store.Init(cmd.Context()); err != nil {
				return err
			}
			log := auditlog.New(store)
			if err := log.Restore(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "audit log ok: %d entries, head %s\n", log.Len(), log.Head())
			return nil
		},
	})
	return cmd
}

func keygenCommand() *cobra.Command {
	var out, keyID string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an attester signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			s, err := attest.NewSigner(keyID)
			if err != nil {
				return err
			}
			if err := s.WriteSeed(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key_id=%s public_key=%s\n", keyID, s.PublicKey())
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "attester.key", "path to write the private seed")
	cmd.Flags().StringVar(&keyID, "key-id", "attester-1", "attester key identifier")
	return cmd
}

// parseKeys reads keyID=publicKeyHex pairs.
func parseKeys(pairs []string) (*attest.KeyRing, error) {
	ring := attest.NewKeyRing()
	for _, p := range pairs {
		id, pub, ok := strings.Cut(p, "=")
		if !ok || id == "" || pub == "" {
			return nil, fmt.Errorf("invalid key %q, want key-id=hex", p)
		}
		ring.Add(id, pub)
	}
	return ring, nil
}

func bearerOnly(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte("Bearer " + token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ledgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Run a standalone simulated ledger",
	}
	var (
		addr  string
		pool  float64
		keys  []string
		token string
	)
	serveLedger := &cobra.Command{
		Use:   "serve",
		Short: "Serve the simulated ledger over the gateway wire protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := commonRun(configFrom(cmd.Context()))
			ring, err := parseKeys(keys)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				logger.Warn("no attester keys trusted; every lock will be rejected")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           bearerOnly(token, ledgergw.NewHandler(ledgergw.NewSimulated(ring, pool))),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			logger.Info("simulated ledger listening", "addr", addr, "pool", pool, "keys", len(keys))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	serveLedger.Flags().StringVar(&addr, "addr", ":8090", "listen address")
	serveLedger.Flags().Float64Var(&pool, "pool", 1_000_000, "initial reward pool")
	serveLedger.Flags().StringSliceVar(&keys, "key", nil, "trusted attester key as key-id=hex (repeatable)")
	serveLedger.Flags().StringVar(&token, "token", os.Getenv("LEDGER_TOKEN"), "bearer token required from clients")
	cmd.AddCommand(serveLedger)
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", programName, version, commit)
			return nil
		},
	}
}
