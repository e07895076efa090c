package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	logsLines  int
	logsFollow bool
)

var logsCmd = &cobra.Command{
	Use:   "logs [file]",
	Short: "Show the debug log",
	Long: `Print the end of the debug log written by serve and index --watch
(~/.timegrid/logs/timegrid.log unless --log or a file is given).

Examples:
  timegrid logs              # last 50 lines
  timegrid logs -f           # follow`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := logPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			path = defaultLogPath()
		}
		ctx, cancel := signalContext()
		defer cancel()
		return tailLogFile(ctx, os.Stdout, path, logsLines, logsFollow)
	},
}

// tailLogFile prints the last n lines from path, optionally following for
// new content until ctx ends.
func tailLogFile(ctx context.Context, out io.Writer, path string, n int, follow bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("log file not found: %s", path)
		}
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	lines, err := readLastLines(f, n)
	if err != nil {
		return err
	}
	for _, line := range lines {
		io.WriteString(out, line)
	}

	if !follow {
		return nil
	}

	// Follow mode: poll for new content
	buf := make([]byte, 4096)
	for {
		nr, err := f.Read(buf)
		if nr > 0 {
			out.Write(buf[:nr])
		}
		if err != nil && err != io.EOF {
			return err
		}
		if nr == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
}

// readLastLines returns the last n lines of f, each with its trailing
// newline, and leaves f positioned at the end.
func readLastLines(f *os.File, n int) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text()+"\n")
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return lines, nil
}

func init() {
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to show")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep printing new lines")
}
