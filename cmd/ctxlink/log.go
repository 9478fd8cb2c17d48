package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ctxlink/internal/paths"
)

var (
	logFollow bool
	logLines  int
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the ctxlink log",
	Long: `View .ctxlink/logs/ctxlink.log, written by 'ctxlink run'.

Examples:
  ctxlink log              # Show last 50 lines
  ctxlink log -n 200       # Show last 200 lines
  ctxlink log -f           # Follow log output`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

func init() {
	logCmd.Flags().BoolVarP(&logFollow, "follow", "f", false, "Follow log output")
	logCmd.Flags().IntVarP(&logLines, "lines", "n", 50, "Number of lines to show")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	repoRoot, err := getRepoRoot()
	if err != nil {
		return err
	}
	logPath := paths.GetLogPath(repoRoot)

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("No logs found.")
		fmt.Printf("Log file location: %s\n", logPath)
		fmt.Println("The log is created by 'ctxlink run'.")
		return nil
	}

	if err := showLogLines(logPath, logLines); err != nil {
		return err
	}
	if logFollow {
		return followLogFile(cmd, logPath)
	}
	return nil
}

func showLogLines(path string, n int) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}

	for _, line := range lines {
		fmt.Println(line)
	}
	return scanner.Err()
}

func followLogFile(cmd *cobra.Command, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	reader := bufio.NewReader(file)
	ctx := cmd.Context()
	for {
		line, err := reader.ReadString('\n')
		fmt.Print(line)
		if err == nil {
			continue
		}
		if err != io.EOF {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}
