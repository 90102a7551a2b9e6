// findnodes is a command-line client for the node search server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/logging"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/client"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/protocol"
)

var (
	serverURL string
	token     string
	verbose   bool

	findKeywords []string
	findFolder   string
	findCascade  bool
	findFlagged  bool
	findShared   bool
	findType     string
	findSort     string
	findLimit    int
	findMaxPages int
	findPublic   string
	findPassword string

	moveDest string

	linkPassword string
	linkExpires  time.Duration
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	folderColor = color.New(color.FgBlue, color.Bold)
	dimColor    = color.New(color.Faint)
	errColor    = color.New(color.FgRed)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		errColor.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "findnodes",
		Short:         "Search, move and publish nodes on a node search server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logging.Init(logging.Config{Level: "debug", Format: "console"})
			} else {
				logging.InitNop()
			}
		},
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "server base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("NODESEARCH_TOKEN"), "bearer token (default $NODESEARCH_TOKEN)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests and retries")

	root.AddCommand(findCmd(), moveCmd(), linkCmd(), unlinkCmd(), seedCmd())
	return root
}

func newClient() *client.Client {
	return client.New(client.Config{BaseURL: serverURL, AuthToken: token})
}

func findCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Page through matching nodes",
		Example: `  findnodes find -k report --sort SIZE_DESC
  findnodes find --folder <id> --cascade --type IMAGE
  findnodes find --public <folder-id> --password secret`,
		RunE: runFind,
	}
	f := cmd.Flags()
	f.StringSliceVarP(&findKeywords, "keyword", "k", nil, "name keyword, repeatable (all must match)")
	f.StringVar(&findFolder, "folder", "", "restrict to a folder")
	f.BoolVar(&findCascade, "cascade", false, "include the whole subtree of --folder")
	f.BoolVar(&findFlagged, "flagged", false, "only nodes you flagged")
	f.BoolVar(&findShared, "shared-with-me", false, "only nodes shared with you")
	f.StringVar(&findType, "type", "", "node type, e.g. IMAGE or FOLDER")
	f.StringVar(&findSort, "sort", "", "sort key, e.g. NAME_ASC or SIZE_DESC")
	f.IntVar(&findLimit, "limit", 0, "page size (server default when 0)")
	f.IntVar(&findMaxPages, "pages", 0, "stop after this many pages (0 = all)")
	f.StringVar(&findPublic, "public", "", "search a link-shared folder anonymously")
	f.StringVar(&findPassword, "password", "", "password for a protected link")
	return cmd
}

func runFind(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := newClient()

	pages := 0
	printPage := func(p *protocol.FindResponse) error {
		pages++
		headerColor.Printf("── page %d (%d nodes)\n", pages, len(p.Nodes))
		for _, n := range p.Nodes {
			printNode(n)
		}
		if findMaxPages > 0 && pages >= findMaxPages {
			if p.PageToken != "" {
				dimColor.Printf("next page token: %s\n", p.PageToken)
			}
			return errStop
		}
		return nil
	}

	if findPublic != "" {
		pageToken := ""
		for {
			p, err := c.FindPublic(ctx, findPublic, findPassword, findLimit, pageToken)
			if err != nil {
				return err
			}
			if err := printPage(p); err != nil {
				return ignoreStop(err)
			}
			if p.PageToken == "" {
				return nil
			}
			pageToken = p.PageToken
		}
	}

	if token == "" {
		return errors.New("--token or NODESEARCH_TOKEN is required")
	}
	var nodeType *models.NodeType
	if findType != "" {
		t := models.NodeType(findType)
		nodeType = &t
	}
	var folder *string
	if findFolder != "" {
		folder = &findFolder
	}
	req := protocol.FindRequest{
		Filters: protocol.Filters{
			FolderID:     folder,
			Cascade:      boolFlag(cmd, "cascade", findCascade),
			Flagged:      boolFlag(cmd, "flagged", findFlagged),
			SharedWithMe: boolFlag(cmd, "shared-with-me", findShared),
			NodeType:     nodeType,
			Keywords:     findKeywords,
		},
		Sort:  findSort,
		Limit: findLimit,
	}
	return ignoreStop(c.FindAll(ctx, req, printPage))
}

// boolFlag returns nil unless the flag was given, so unset flags do not filter.
func boolFlag(cmd *cobra.Command, name string, v bool) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

var errStop = errors.New("stop paging")

func ignoreStop(err error) error {
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}

func printNode(n *models.Node) {
	name := n.Name
	if n.Category != models.CategoryFile {
		name = folderColor.Sprint(n.Name + "/")
	}
	fmt.Printf("  %-40s %-12s %10d  %s\n", name, n.Type, n.Size, dimColor.Sprint(n.ID))
}

func moveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <node-id>...",
		Short: "Move nodes under another folder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().Move(cmd.Context(), protocol.MoveRequest{
				NodeIDs:       args,
				DestinationID: moveDest,
			})
			if err != nil {
				return err
			}
			headerColor.Printf("moved %d nodes\n", len(resp.Nodes))
			for _, n := range resp.Nodes {
				printNode(n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&moveDest, "dest", "", "destination folder id")
	cmd.MarkFlagRequired("dest")
	return cmd
}

func linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <folder-id>",
		Short: "Publish a folder through a public link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().CreateLink(cmd.Context(), protocol.CreateLinkRequest{
				NodeID:       args[0],
				Password:     linkPassword,
				ExpiresInSec: int64(linkExpires / time.Second),
			})
			if err != nil {
				return err
			}
			headerColor.Printf("link %s\n", resp.ID)
			fmt.Printf("  folder:    %s\n", resp.NodeID)
			fmt.Printf("  protected: %t\n", resp.Protected)
			if resp.ExpiresAt != nil {
				fmt.Printf("  expires:   %s\n", resp.ExpiresAt.Format(time.RFC3339))
			}
			dimColor.Printf("  %s/api/v1/public/folders/%s/nodes\n", serverURL, resp.NodeID)
			return nil
		},
	}
	cmd.Flags().StringVar(&linkPassword, "password", "", "protect the link with a password")
	cmd.Flags().DurationVar(&linkExpires, "expires", 0, "link lifetime, e.g. 72h (0 = never)")
	return cmd
}

func unlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <link-id>",
		Short: "Revoke a public link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().RevokeLink(cmd.Context(), args[0]); err != nil {
				return err
			}
			headerColor.Printf("revoked link %s\n", args[0])
			return nil
		},
	}
}
