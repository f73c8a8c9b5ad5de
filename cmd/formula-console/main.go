// Command formula-console lets teachers try grading formulas interactively.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"codeassess/internal/formula/console"

	"github.com/chzyer/readline"
)

func main() {
	historyFile := flag.String("history", defaultHistoryFile(), "History file path, empty to disable")
	flag.Parse()
	os.Exit(run(*historyFile))
}

func run(historyFile string) int {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "formula> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("set", readline.PcItem("test"), readline.PcItem("practice")),
			readline.PcItem("validate"),
			readline.PcItem("vars"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init readline failed: %v\n", err)
		return 1
	}
	defer func() {
		_ = rl.Close()
	}()

	if err := console.New(rl.Stdout()).Run(rl); err != nil {
		fmt.Fprintf(os.Stderr, "console stopped: %v\n", err)
		return 1
	}
	return 0
}

func defaultHistoryFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "codeassess")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	return filepath.Join(dir, "formula_history")
}
