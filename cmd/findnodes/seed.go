package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/auth"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metadata/postgres"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/retry"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/sharing"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

var (
	seedDatabaseURL   string
	seedMigrationsDir string
	seedJWTSecret     string
	seedTokenTTL      time.Duration
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a demo hierarchy into PostgreSQL and print user tokens",
		Long: `seed connects to the database directly, applies migrations and creates
two users' storage roots with folders, files, a share, a flag and a public
link. Tokens for both users are signed with --jwt-secret.`,
		RunE: runSeed,
	}
	f := cmd.Flags()
	f.StringVar(&seedDatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL (default $DATABASE_URL)")
	f.StringVar(&seedMigrationsDir, "migrations", "migrations", "migrations directory")
	f.StringVar(&seedJWTSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "server JWT secret (default $JWT_SECRET)")
	f.DurationVar(&seedTokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed tokens")
	return cmd
}

func runSeed(cmd *cobra.Command, args []string) error {
	if seedDatabaseURL == "" {
		return errors.New("--database-url is required")
	}
	if seedJWTSecret == "" {
		return errors.New("--jwt-secret is required")
	}
	ctx := cmd.Context()

	store, err := retry.Do(ctx, retry.StartupPolicy(), func(ctx context.Context) (*postgres.Store, error) {
		s, err := postgres.New(ctx, seedDatabaseURL, postgres.DefaultPoolConfig())
		return s, retry.Transient(err)
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(seedMigrationsDir); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	b := &builder{ctx: ctx, store: store}
	alice, bob := "alice", "bob"

	aliceRoot := b.node(nil, alice, models.CategoryRoot, "", "alice", 0)
	docs := b.node(aliceRoot, alice, models.CategoryFolder, "", "Documents", 0)
	b.node(docs, alice, models.CategoryFile, models.NodeTypeText, "notes.txt", 2_048)
	report := b.node(docs, alice, models.CategoryFile, models.NodeTypeApplication, "Quarterly Report.pdf", 1_450_000)
	b.node(docs, alice, models.CategoryFile, models.NodeTypeSpreadsheet, "budget.xlsx", 88_000)
	archive := b.node(docs, alice, models.CategoryFolder, "", "Archive", 0)
	b.node(archive, alice, models.CategoryFile, models.NodeTypeText, "old report draft.txt", 12_000)
	photos := b.node(aliceRoot, alice, models.CategoryFolder, "", "Photos", 0)
	b.node(photos, alice, models.CategoryFile, models.NodeTypeImage, "beach.jpg", 3_200_000)
	b.node(photos, alice, models.CategoryFile, models.NodeTypeImage, "mountain.png", 5_100_000)
	b.node(photos, alice, models.CategoryFile, models.NodeTypeVideo, "timelapse.mp4", 48_000_000)

	bobRoot := b.node(nil, bob, models.CategoryRoot, "", "bob", 0)
	shared := b.node(bobRoot, bob, models.CategoryFolder, "", "Team Share", 0)
	b.node(shared, bob, models.CategoryFile, models.NodeTypePresentation, "kickoff.pptx", 900_000)
	b.node(shared, bob, models.CategoryFile, models.NodeTypeText, "report outline.md", 4_000)
	if b.err != nil {
		return b.err
	}

	if err := store.AddShare(ctx, models.Share{NodeID: shared.ID, TargetUserID: alice, Permissions: "read", Direct: true}); err != nil {
		return fmt.Errorf("share: %w", err)
	}
	if err := store.SetFlag(ctx, report.ID, alice, true); err != nil {
		return fmt.Errorf("flag: %w", err)
	}
	link, err := sharing.NewLinkStore(store.DB()).Create(ctx, photos.ID, alice, "", 0)
	if err != nil {
		return fmt.Errorf("link: %w", err)
	}

	headerColor.Printf("seeded %d nodes\n", b.count)
	fmt.Printf("  public folder: %s (link %s)\n", photos.ID, link.ID)
	fmt.Printf("  shared folder: %s\n", shared.ID)

	a := auth.New(seedJWTSecret)
	for _, user := range []string{alice, bob} {
		tok, exp, err := a.IssueToken(user, user, seedTokenTTL)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		headerColor.Printf("%s", user)
		dimColor.Printf(" (expires %s)\n", exp.Format(time.RFC3339))
		fmt.Println("  " + tok)
	}
	return nil
}

// builder creates nodes in sequence, stopping at the first error.
type builder struct {
	ctx   context.Context
	store *postgres.Store
	count int
	err   error
}

func (b *builder) node(parent *models.Node, owner string, cat models.Category, typ models.NodeType, name string, size int64) *models.Node {
	if b.err != nil {
		return nil
	}
	n := &models.Node{Category: cat, Type: typ, Name: name, Size: size, OwnerID: owner}
	if parent != nil {
		pid := parent.ID
		n.ParentID = &pid
	}
	created, err := b.store.CreateNode(b.ctx, n)
	if err != nil {
		b.err = fmt.Errorf("create %q: %w", name, err)
		return nil
	}
	b.count++
	return created
}
