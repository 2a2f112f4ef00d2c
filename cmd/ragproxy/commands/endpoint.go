package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/localrag/ragproxy-go/internal/config"
	"github.com/localrag/ragproxy-go/internal/logging"
	"github.com/localrag/ragproxy-go/internal/supervisor"
)

// NewEndpointCmd constructs the `ragproxy endpoint` command set, a
// standalone operator convenience mirroring llm_kickstart.py's
// create_endpoint/stop_process/restart_process/list_processes/
// refresh_config (SPEC_FULL.md §12). It operates alongside, not in
// place of, the proxy's own in-process use of the supervisor via
// `ragproxy serve --start`.
//
// Each invocation is a separate, short-lived process, so "stop" and
// "list" read the process_list.json snapshot rather than an in-memory
// process map — there is no live *exec.Cmd to wait on once the process
// that spawned it has exited.
func NewEndpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Manage backend LLM server processes",
	}
	cmd.AddCommand(
		newEndpointCreateCmd(),
		newEndpointStopCmd(),
		newEndpointRestartCmd(),
		newEndpointListCmd(),
		newEndpointRefreshConfigCmd(),
	)
	return cmd
}

func loadSupervisor() (*supervisor.Supervisor, string, error) {
	log := logging.New()
	dir, err := config.ResolveDir(configDir)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(dir, log)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	endpoints := make([]supervisor.EndpointConfig, len(cfg.Endpoints))
	for i, e := range cfg.Endpoints {
		endpoints[i] = supervisor.EndpointConfig{Name: e.Name, Flags: e.Flags}
	}
	processListPath := dir + "/process_list.json"
	return supervisor.New(cfg.App.LlamaServerPath, endpoints, processListPath), processListPath, nil
}

func newEndpointCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Start the named backend endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, _, err := loadSupervisor()
			if err != nil {
				return err
			}
			if err := sup.Create(args[0]); err != nil {
				return err
			}
			fmt.Printf("endpoint %q started\n", args[0])
			return nil
		},
	}
}

func newEndpointStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop the named backend endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, listPath, err := loadSupervisor()
			if err != nil {
				return err
			}
			records, err := supervisor.ReadProcessList(listPath)
			if err != nil {
				return err
			}
			rec, ok := records[args[0]]
			if !ok {
				fmt.Printf("endpoint %q is not running\n", args[0])
				return nil
			}
			if err := supervisor.KillRecordedPID(rec.PID); err != nil {
				return err
			}
			fmt.Printf("endpoint %q stopped\n", args[0])
			return nil
		},
	}
}

func newEndpointRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Stop then start the named backend endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, listPath, err := loadSupervisor()
			if err != nil {
				return err
			}
			records, err := supervisor.ReadProcessList(listPath)
			if err != nil {
				return err
			}
			if rec, ok := records[args[0]]; ok {
				_ = supervisor.KillRecordedPID(rec.PID)
			}
			if err := sup.Create(args[0]); err != nil {
				return err
			}
			fmt.Printf("endpoint %q restarted\n", args[0])
			return nil
		},
	}
}

func newEndpointListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known backend endpoint processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, listPath, err := loadSupervisor()
			if err != nil {
				return err
			}
			records, err := supervisor.ReadProcessList(listPath)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no recorded endpoint processes")
				return nil
			}
			names := make([]string, 0, len(records))
			for name := range records {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				r := records[name]
				fmt.Printf("%s\tpid=%d\tstatus=%s\n", r.Name, r.PID, r.Status)
			}
			return nil
		},
	}
}

// newEndpointRefreshConfigCmd validates endpoints.json loads cleanly.
// supervisor.RefreshConfig itself only matters for a long-lived
// in-process Supervisor (each standalone CLI invocation already
// constructs a fresh one from the current on-disk config).
func newEndpointRefreshConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-config",
		Short: "Validate endpoints.json without restarting running processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := loadSupervisor()
			if err != nil {
				return err
			}
			fmt.Println("endpoint configuration refreshed")
			return nil
		},
	}
}
