package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/alpaca-computer/alpaca-connect/internal/remote"
	"github.com/alpaca-computer/alpaca-connect/internal/storage"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved servers and their connection status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			servers, err := a.manager.ListConnected()
			if err != nil {
				return err
			}
			return printJSON(servers)
		},
	}
}

func connectCmd() *cobra.Command {
	var displayName, homepage, iconURL string
	var verified bool

	cmd := &cobra.Command{
		Use:   "connect <namespace>",
		Short: "Connect to a remote MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			record := &storage.ServerRecord{
				Namespace:   args[0],
				DisplayName: displayName,
				Homepage:    homepage,
				IconURL:     iconURL,
				Verified:    verified,
			}
			result, err := a.manager.Connect(cmd.Context(), record)
			if err != nil {
				return err
			}
			if result.ReAuthRequired {
				fmt.Println("Authorization required - complete the flow in your browser,")
				fmt.Printf("then run: alpaca-connect auth %s <code>\n", args[0])
				return nil
			}

			tools := a.manager.ToolsFromNamespaces(args)
			fmt.Printf("Connected to %s (%d tools)\n", args[0], len(tools))
			return nil
		},
	}

	cmd.Flags().StringVar(&displayName, "name", "", "Display name for the server")
	cmd.Flags().StringVar(&homepage, "homepage", "", "Server homepage URL")
	cmd.Flags().StringVar(&iconURL, "icon", "", "Server icon URL")
	cmd.Flags().BoolVar(&verified, "verified", false, "Mark the server as verified")
	return cmd
}

func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <namespace>",
		Short: "Disconnect from a server and forget its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.manager.Disconnect(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Disconnected from %s\n", args[0])
			return nil
		},
	}
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth <namespace> <code>",
		Short: "Complete an OAuth authorization with the code from the redirect",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			namespace := args[0]
			// A fresh process has no live session; connecting first recreates
			// it (and re-dispatches the challenge when the server demands one).
			if _, ok := a.manager.Session(namespace); !ok {
				stored, err := a.repo.Load(namespace)
				if err != nil {
					return err
				}
				if stored == nil {
					return fmt.Errorf("unknown namespace %s", namespace)
				}
				if _, err := a.manager.Connect(cmd.Context(), stored.Metadata()); err != nil {
					return err
				}
			}

			result, err := a.manager.CompleteAuthorization(cmd.Context(), namespace, args[1])
			if err != nil {
				return err
			}
			switch {
			case result.Success && result.Code == remote.CodeNone:
				fmt.Printf("Authorization complete, connected to %s\n", namespace)
			case result.Success:
				fmt.Printf("Authorization complete, but reconnect failed: %s\n", result.Message)
				fmt.Println("Retry with: alpaca-connect connect", namespace)
			default:
				fmt.Printf("Authorization failed (%s): %s\n", result.Code, result.Message)
			}
			return nil
		},
	}
}

func reconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect",
		Short: "Reconnect to every saved server with stored credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			return a.manager.ReconnectAll(cmd.Context(), func(event remote.Event) {
				switch event.Type {
				case remote.EventStart:
					fmt.Printf("Reconnecting to %d servers...\n", event.Total)
				case remote.EventComplete:
					fmt.Printf("Done: %d/%d connected\n", event.Connected, event.Total)
				default:
					fmt.Printf("  %-12s %s\n", event.Type, event.Namespace)
				}
			})
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools [namespace...]",
		Short: "List tools from saved servers (connects first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.manager.ReconnectAll(cmd.Context(), nil); err != nil {
				return err
			}

			tools := a.manager.AllTools()
			if len(args) > 0 {
				tools = a.manager.ToolsFromNamespaces(args)
			}

			names := make([]string, 0, len(tools))
			for name := range tools {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s\t%s\n", name, tools[name].Description)
			}
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>",
		Short: "Search the server directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			results := a.registryClient().SearchServers(cmd.Context(), args[0])
			if len(results) == 0 {
				fmt.Println("No servers found")
				return nil
			}
			return printJSON(results)
		},
	}
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
