package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"schoolattend/internal/auth"
	"schoolattend/internal/config"
	"schoolattend/internal/ledger"
	"schoolattend/internal/store"
)

var errHelp = errors.New("help provided")

var roles = []string{auth.RoleTeacher, auth.RolePrincipal, auth.RoleGovernment, auth.RoleDevice, auth.RoleStudent}

type commandLine struct {
	cfg    config.App
	out    io.Writer
	logger *slog.Logger
	open   func(context.Context) (*store.Persistence, error)
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  token -id ACTOR -role ROLE [-school SCHOOL] - issue an access/refresh token pair")
	fmt.Fprintln(cli.out, "  seed -file PATH [-force]                     - import a JSON snapshot into the configured backend")
	fmt.Fprintln(cli.out, "  export [-file PATH]                          - write the stored snapshot as JSON (stdout by default)")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenID := tokenCmd.String("id", "", "Actor id recorded on writes, e.g. PRN001 or kiosk-1.")
	tokenRole := tokenCmd.String("role", "", "One of: teacher, principal, government, device, student.")
	tokenSchool := tokenCmd.String("school", "", "School the actor belongs to.")

	seedCmd := flag.NewFlagSet("seed", flag.ContinueOnError)
	seedFile := seedCmd.String("file", "", "JSON snapshot to import.")
	seedForce := seedCmd.Bool("force", false, "Replace an existing snapshot.")

	exportCmd := flag.NewFlagSet("export", flag.ContinueOnError)
	exportFile := exportCmd.String("file", "", "Output path; stdout when empty.")

	for _, fs := range []*flag.FlagSet{tokenCmd, seedCmd, exportCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenID == "" || !slices.Contains(roles, *tokenRole) {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.issueToken(auth.Actor{ID: *tokenID, Role: *tokenRole, SchoolID: *tokenSchool})
	case "seed":
		if err := seedCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *seedFile == "" {
			seedCmd.Usage()
			return errHelp
		}
		return cli.seed(ctx, *seedFile, *seedForce)
	case "export":
		if err := exportCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.export(ctx, *exportFile)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) issueToken(actor auth.Actor) error {
	pair, err := auth.Issue(actor, cli.cfg.JWTIssuer, cli.cfg.JWTSigningKey, cli.cfg.AccessTTL, cli.cfg.RefreshTTL)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}

// seed validates the snapshot by loading it into a ledger before saving, so a
// broken file never reaches the backend.
func (cli *commandLine) seed(ctx context.Context, path string, force bool) error {
	snap, err := store.SeedFile(path)()
	if err != nil {
		return err
	}
	seeded, err := ledger.New(snap)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}

	p, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	_, err = p.Load(ctx)
	switch {
	case err == nil && !force:
		return errors.New("a snapshot is already stored; pass -force to replace it")
	case err != nil && !errors.Is(err, ledger.ErrNoSnapshot):
		return err
	}
	if err := p.Save(ctx, seeded.Snapshot()); err != nil {
		return err
	}
	cli.logger.Info("snapshot imported", "backend", p.Backend,
		"students", len(snap.Students), "teachers", len(snap.Teachers), "principals", len(snap.Principals))
	return nil
}

func (cli *commandLine) export(ctx context.Context, path string) error {
	p, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	snap, err := p.Load(ctx)
	if err != nil {
		return err
	}
	w := cli.out
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
