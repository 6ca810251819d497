// Command flatstorectl is a CLI demo over the blob store: a global
// root-directory flag plus one subcommand per public store operation,
// opened/closed around the command via Before/After hooks.
package main

import (
	"fmt"
	"log"
	"os"

	"flatstore/blobhash"
	"flatstore/store"

	"github.com/urfave/cli/v2"
)

var db *store.Store

func openStore(root string) error {
	if db != nil {
		return nil
	}
	s, err := store.Load(store.DefaultOptions(root))
	if err != nil {
		return fmt.Errorf("could not open store: %w", err)
	}
	db = s
	return nil
}

func closeStore() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "flatstorectl",
		Usage: "inspect and manipulate a flatstore blob store directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Value:   ".flatstore",
				Usage:   "store root directory",
				EnvVars: []string{"FLATSTORE_ROOT"},
			},
		},
		Before: func(c *cli.Context) error {
			return openStore(c.String("root"))
		},
		After: func(c *cli.Context) error {
			return closeStore()
		},
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "import a local file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Required: true},
					&cli.BoolFlag{Name: "reference", Usage: "import by reference instead of copying"},
				},
				Action: importAction,
			},
			{
				Name:  "export",
				Usage: "export a blob to a path",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "hash", Required: true},
					&cli.StringFlag{Name: "to", Required: true},
					&cli.BoolFlag{Name: "reference", Usage: "export by reference instead of copying"},
				},
				Action: exportAction,
			},
			{
				Name:  "get",
				Usage: "print the size of a stored blob",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "hash", Required: true},
				},
				Action: getAction,
			},
			{
				Name:   "list",
				Usage:  "list complete and partial blobs",
				Action: listAction,
			},
			{
				Name:  "tag",
				Usage: "assign a name to a hash",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "hash", Required: true},
				},
				Action: tagAction,
			},
			{
				Name:   "sync",
				Usage:  "reconcile the index against the on-disk files",
				Action: syncAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func importAction(c *cli.Context) error {
	mode := store.ModeCopy
	if c.Bool("reference") {
		mode = store.ModeTryReference
	}
	tag, size, err := db.ImportFile(c.String("path"), mode, blobhash.Raw)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	defer tag.Release()
	fmt.Printf("imported %s (%d bytes)\n", tag.Hash(), size)
	return nil
}

func exportAction(c *cli.Context) error {
	h, err := blobhash.Parse(c.String("hash"))
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}
	mode := store.ModeCopy
	if c.Bool("reference") {
		mode = store.ModeTryReference
	}
	if err := db.Export(h, c.String("to"), mode, nil); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fmt.Printf("exported %s -> %s\n", h, c.String("to"))
	return nil
}

func getAction(c *cli.Context) error {
	h, err := blobhash.Parse(c.String("hash"))
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}
	entry, err := db.Get(h)
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	fmt.Printf("%s: %d bytes (outboard present: %v)\n", h, entry.Size, entry.Outboard != nil)
	return nil
}

func listAction(c *cli.Context) error {
	blobs, err := db.Blobs()
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}
	for _, h := range blobs {
		fmt.Println(h)
	}
	partials, err := db.PartialBlobs()
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}
	fmt.Printf("%d complete, %d partial\n", len(blobs), len(partials))
	return nil
}

func tagAction(c *cli.Context) error {
	h, err := blobhash.Parse(c.String("hash"))
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}
	if err := db.SetTag(c.String("name"), h, blobhash.Raw, false); err != nil {
		return fmt.Errorf("tag failed: %w", err)
	}
	fmt.Printf("tagged %s as %s\n", h, c.String("name"))
	return nil
}

func syncAction(c *cli.Context) error {
	if err := db.SyncMetaFromFiles(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Println("synced")
	return nil
}
