package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/runnerr0/tabtime/internal/config"
)

const clearConfirmation = "CLEAR"

// Execute implements the go-flags Commander interface for ClearCommand.
func (c *ClearCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("clear requires --all flag for safety")
	}

	if !c.Force {
		fmt.Println("WARNING: This will permanently delete ALL recorded tab history.")
		fmt.Println()
		fmt.Println("This action cannot be undone.")
		fmt.Println()
		fmt.Printf("Type %q to confirm: ", clearConfirmation)

		var in io.Reader = os.Stdin
		if c.stdin != nil {
			in = c.stdin
		}
		scanner := bufio.NewScanner(in)
		if !scanner.Scan() {
			return fmt.Errorf("aborted: no input received")
		}
		if strings.TrimSpace(scanner.Text()) != clearConfirmation {
			return fmt.Errorf("aborted: confirmation text did not match")
		}
	}

	cfg := config.DefaultConfig()
	store := c.store
	if store == nil {
		var err error
		cfg, err = loadConfig(c.globals)
		if err != nil {
			return err
		}
		sqlStore, db, _, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		defer sqlStore.Close()
		store = sqlStore
	}

	adapter := newAdapter(store, cfg, nil)
	if err := adapter.Clear(context.Background()); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"cleared": true,
			"message": "all history deleted",
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	fmt.Println("Cleared all history.")
	return nil
}
