package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/castla94/gestor-chatbot/internal/app"
	"github.com/castla94/gestor-chatbot/internal/logstream"
	"github.com/castla94/gestor-chatbot/internal/model"
	"github.com/castla94/gestor-chatbot/pkg/config"
	"github.com/castla94/gestor-chatbot/pkg/logger"
	"github.com/spf13/cobra"
)

type lifecycleOps interface {
	Create(ctx context.Context, t model.Tenant) error
	Start(ctx context.Context, id, name string) error
	Stop(ctx context.Context, id, name string) error
	Reset(ctx context.Context, id, name string) error
	Delete(ctx context.Context, name string) error
}

type statusOps interface {
	ListStatuses(ctx context.Context) ([]model.TenantStatusView, error)
	ConnectionState(ctx context.Context, id, name string) (model.ConnectionState, error)
}

type logOps interface {
	Stream(ctx context.Context, processName string, sink logstream.Sink) (logstream.Outcome, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logger.InitLogger(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.GetLogger()
	defer log.Sync()

	components := app.New(cfg, log, nil)
	if err := newRootCmd(components.Manager, components.Status, components.Logs).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(lc lifecycleOps, st statusOps, logs logOps) *cobra.Command {
	root := &cobra.Command{
		Use:   "botctl",
		Short: "Manage chat-bot tenants on this host",
		Long: `botctl runs the tenant lifecycle operations of the gestor de clientes
directly against the local pm2 daemon and clients directory, without the HTTP API.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		createCmd(lc),
		tenantCmd("start", "Start the bot process of a tenant", "Cliente %s iniciado en PM2", lc.Start),
		tenantCmd("stop", "Stop a tenant and clear its session", "Cliente %s detenido PM2", lc.Stop),
		tenantCmd("reset", "Restart a tenant with a fresh session", "Cliente %s reiniciado en PM2", lc.Reset),
		deleteCmd(lc),
		statusCmd(st),
		connectionCmd(st),
		logsCmd(logs),
	)
	return root
}

func createCmd(lc lifecycleOps) *cobra.Command {
	var t model.Tenant
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision, configure and start a new tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := lc.Create(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cliente %s creado e iniciado en el puerto %s\n", t.Name, t.Port)
			return nil
		},
	}
	cmd.Flags().StringVar(&t.ID, "id", "", "tenant id")
	cmd.Flags().StringVar(&t.Name, "name", "", "tenant name")
	cmd.Flags().StringVar(&t.Email, "email", "", "tenant email token")
	cmd.Flags().StringVar(&t.Port, "port", "", "tenant bot port")
	return cmd
}

func tenantCmd(use, short, done string, run func(ctx context.Context, id, name string) error) *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(cmd.Context(), id, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), done+"\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "tenant name")
	return cmd
}

func deleteCmd(lc lifecycleOps) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the process and directory of a tenant (looked up by name)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := lc.Delete(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cliente con ID %s eliminado exitosamente.\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "tenant name")
	return cmd
}

func statusCmd(st statusOps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List every supervisor process",
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := st.ListStatuses(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATUS\tPORT\tUPTIME\tMEMORY\tCPU")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", v.Name, v.Status, v.Port, v.Uptime, v.Memory, v.CPU)
			}
			return w.Flush()
		},
	}
}

func connectionCmd(st statusOps) *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Report whether the bot of a tenant holds a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := st.ConnectionState(cmd.Context(), id, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), state)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "tenant name")
	return cmd
}

// writerSink prints relayed chunks as they arrive
type writerSink struct {
	w io.Writer
}

func (s writerSink) WriteChunk(p []byte) error {
	_, err := s.w.Write(p)
	return err
}

func (s writerSink) Close() error {
	_, err := io.WriteString(s.w, "\n")
	return err
}

func logsCmd(logs logOps) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <app-name>",
		Short: "Follow the live logs of a process until the stream timeout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := logs.Stream(cmd.Context(), args[0], writerSink{w: cmd.OutOrStdout()})
			return err
		},
	}
}
