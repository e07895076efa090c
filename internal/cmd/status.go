package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wethinkt/go-timegrid/internal/config"
)

// instanceStatusJSON is the JSON schema for timegrid status --json.
type instanceStatusJSON struct {
	Type          string    `json:"type"`
	PID           int       `json:"pid"`
	Address       string    `json:"address,omitempty"`
	Library       string    `json:"library,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int       `json:"uptime_seconds"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show running timegrid servers and watchers",
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop [serve|index-watch]",
	Short: "Stop a running server or watcher",
	Long: `Stop a timegrid process started with 'serve' or 'index --watch'.
Without an argument the server is stopped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStop,
}

func runStatus(cmd *cobra.Command, args []string) error {
	instances, err := config.ListInstances()
	if err != nil {
		return err
	}

	if outputJSON {
		out := make([]instanceStatusJSON, 0, len(instances))
		for _, inst := range instances {
			out = append(out, instanceStatusJSON{
				Type:          string(inst.Type),
				PID:           inst.PID,
				Address:       instanceAddress(inst),
				Library:       inst.Library,
				StartedAt:     inst.StartedAt,
				UptimeSeconds: int(time.Since(inst.StartedAt).Seconds()),
			})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(instances) == 0 {
		fmt.Println("No timegrid processes running.")
		return nil
	}
	for _, inst := range instances {
		fmt.Printf("● timegrid %s\n", inst.Type)
		fmt.Printf("   Status: Running (PID: %d)\n", inst.PID)
		if addr := instanceAddress(inst); addr != "" {
			fmt.Printf("   Address: %s\n", addr)
		}
		if inst.Library != "" {
			fmt.Printf("   Library: %s\n", inst.Library)
		}
		fmt.Printf("   Started: %s\n", humanize.Time(inst.StartedAt))
	}
	return nil
}

func instanceAddress(inst config.Instance) string {
	if inst.Port == 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", inst.Host, inst.Port)
}

func runStop(cmd *cobra.Command, args []string) error {
	typ := config.InstanceServer
	if len(args) == 1 {
		typ = config.InstanceType(args[0])
	}
	inst := config.FindInstanceByType(typ)
	if inst == nil {
		fmt.Printf("No %s process is running.\n", typ)
		return nil
	}

	proc, err := os.FindProcess(inst.PID)
	if err != nil {
		return err
	}
	fmt.Printf("Stopping %s (PID: %d)...\n", typ, inst.PID)
	// Interrupt lets the process unregister itself; Windows has no
	// interrupt signal for other processes.
	if runtime.GOOS == "windows" {
		err = proc.Kill()
	} else {
		err = proc.Signal(os.Interrupt)
	}
	if err != nil {
		return fmt.Errorf("failed to stop %s: %w", typ, err)
	}
	if runtime.GOOS == "windows" {
		_ = config.UnregisterInstance(inst.PID)
	}
	fmt.Println("Stopped.")
	return nil
}

func init() {
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
}
