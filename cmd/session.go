// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// SessionStore is the interface reups's `env` subcommand delegates to.
// defaultSessionStore is a minimal file-backed stand-in so the CLI
// surface is runnable end to end without a real preference-store
// integration.
type SessionStore interface {
	Save(name string, vars map[string]string) error
	Restore(name string) (map[string]string, error)
	Delete(name string) error
	List() ([]string, error)
}

type defaultSessionStore struct {
	path string
}

func newDefaultSessionStore() (*defaultSessionStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &defaultSessionStore{path: filepath.Join(home, ".reups", "sessions.json")}, nil
}

func (s *defaultSessionStore) load() (map[string]map[string]string, error) {
	sessions := map[string]map[string]string{}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return sessions, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return sessions, nil
	}
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *defaultSessionStore) persist(sessions map[string]map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}

func (s *defaultSessionStore) Save(name string, vars map[string]string) error {
	sessions, err := s.load()
	if err != nil {
		return err
	}
	sessions[name] = vars
	return s.persist(sessions)
}

func (s *defaultSessionStore) Restore(name string) (map[string]string, error) {
	sessions, err := s.load()
	if err != nil {
		return nil, err
	}
	vars, ok := sessions[name]
	if !ok {
		return nil, fmt.Errorf("env: no saved session named %q", name)
	}
	return vars, nil
}

func (s *defaultSessionStore) Delete(name string) error {
	sessions, err := s.load()
	if err != nil {
		return err
	}
	delete(sessions, name)
	return s.persist(sessions)
}

func (s *defaultSessionStore) List() ([]string, error) {
	sessions, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(sessions))
	for n := range sessions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func initEnv(root *cobra.Command) {
	envCmd := &cobra.Command{
		Use:   "env (save|restore|delete|list) [NAME]",
		Short: "manipulate named activation sessions",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := newDefaultSessionStore()
			if err != nil {
				return err
			}

			action := args[0]
			var name string
			if len(args) == 2 {
				name = args[1]
			}

			switch action {
			case "save":
				if name == "" {
					return fmt.Errorf("env save: NAME is required")
				}
				vars := currentEnvSnapshot()
				return store.Save(name, vars)
			case "restore":
				if name == "" {
					return fmt.Errorf("env restore: NAME is required")
				}
				vars, err := store.Restore(name)
				if err != nil {
					return err
				}
				printExport(vars)
				return nil
			case "delete":
				if name == "" {
					return fmt.Errorf("env delete: NAME is required")
				}
				return store.Delete(name)
			case "list":
				names, err := store.List()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			default:
				return fmt.Errorf("env: unknown action %q", action)
			}
		},
	}
	root.AddCommand(envCmd)
}

func currentEnvSnapshot() map[string]string {
	vars := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				vars[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return vars
}

func printExport(vars map[string]string) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Print("export")
	for _, k := range keys {
		fmt.Printf(" %s=%s", k, strings.ReplaceAll(vars[k], " ", `\ `))
	}
	fmt.Print("\n")
}
