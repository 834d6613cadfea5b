package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"rpg-portal/logger"
	"rpg-portal/models"
	"rpg-portal/services"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()
	logger.Init("development")

	if err := newApp().Run(os.Args); err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			logger.Error().Err(err).Msg("❌ portalctl")
			os.Exit(exit.ExitCode())
		}
		logger.Fatal().Err(err).Msg("❌ portalctl failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "portalctl",
		Usage: "maintenance tasks for the RPG portal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				EnvVars:  []string{"DATABASE_URL"},
				Usage:    "postgres DSN",
				Required: true,
			},
			&cli.BoolFlag{Name: "verbose", Usage: "log SQL and debug output"},
		},
		Before: func(c *cli.Context) error {
			if !c.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
			return nil
		},
		// Errors are reported by main.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			dedupeCommand(),
			exportContactsCommand(),
			importContactsCommand(),
			setPlanCommand(),
			evaluateAchievementsCommand(),
		},
	}
}

func openDB(c *cli.Context) (*gorm.DB, error) {
	return models.Open(c.String("database-url"), c.Bool("verbose"))
}

func dedupeCommand() *cli.Command {
	return &cli.Command{
		Name:  "dedupe",
		Usage: "merge user records that share an email",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "only list the duplicated emails"},
		},
		Action: func(c *cli.Context) error {
			db, err := openDB(c)
			if err != nil {
				return err
			}
			accounts := services.NewAccountService(db, services.NewAccessPolicy(nil, "", ""))

			if c.Bool("dry-run") {
				emails, err := accounts.DuplicateEmails(c.Context)
				if err != nil {
					return err
				}
				for _, email := range emails {
					fmt.Printf("duplicated: %s\n", email)
				}
				fmt.Printf("%d emails held by more than one record\n", len(emails))
				return nil
			}

			report, err := accounts.SweepDuplicates(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("Merged %d emails, removed %d records\n", report.Emails, report.Removed)
			for _, email := range report.Failed {
				fmt.Printf("Failed to merge: %s\n", email)
			}
			return nil
		},
	}
}

func exportContactsCommand() *cli.Command {
	return &cli.Command{
		Name:      "export-contacts",
		Usage:     "write every user as a contacts CSV or XLSX file",
		ArgsUsage: "<file.csv|file.xlsx>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "exclude", Usage: "phone, address or discord"},
		},
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return cli.Exit("missing output file", 2)
			}
			db, err := openDB(c)
			if err != nil {
				return err
			}
			contacts := services.NewContactService(db)
			opts := services.ExportOptions{Exclude: c.StringSlice("exclude")}

			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			w := bufio.NewWriter(f)

			var n int
			if strings.EqualFold(filepath.Ext(path), ".xlsx") {
				n, err = contacts.ExportXLSX(c.Context, w, opts)
			} else {
				n, err = contacts.ExportCSV(c.Context, w, opts)
			}
			if err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("Exported %d contacts to %s\n", n, path)
			return nil
		},
	}
}

func importContactsCommand() *cli.Command {
	return &cli.Command{
		Name:      "import-contacts",
		Usage:     "create users for contacts whose email is not registered yet",
		ArgsUsage: "<file.csv|file.xlsx>",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return cli.Exit("missing input file", 2)
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			var rows [][]string
			if strings.EqualFold(filepath.Ext(path), ".xlsx") {
				data, err := io.ReadAll(f)
				if err != nil {
					return err
				}
				rows, err = services.ReadContactsXLSX(data)
				if err != nil {
					return err
				}
			} else {
				rows, err = services.ReadContactsCSV(f)
				if err != nil {
					return err
				}
			}

			db, err := openDB(c)
			if err != nil {
				return err
			}
			report, err := services.NewContactService(db).Import(c.Context, rows)
			if err != nil {
				return err
			}
			fmt.Printf("Rows: %d\n", report.Rows)
			fmt.Printf("Imported: %d\n", report.Imported)
			fmt.Printf("Skipped (invalid email): %d\n", report.SkippedInvalid)
			fmt.Printf("Skipped (repeated in file): %d\n", report.SkippedDuplicate)
			fmt.Printf("Skipped (already registered): %d\n", report.SkippedExisting)
			return nil
		},
	}
}

func setPlanCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-plan",
		Usage:     "change the plan of the user with the given email",
		ArgsUsage: "<email> <plan>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("usage: portalctl set-plan <email> <plan>", 2)
			}
			db, err := openDB(c)
			if err != nil {
				return err
			}
			u, err := services.NewUserService(db).SetPlanByEmail(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}
			unlocked, err := services.NewAchievementService(db).Evaluate(c.Context, u.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%s is now on plan %s\n", u.Email, u.Plan)
			for _, def := range unlocked {
				fmt.Printf("Unlocked: %s\n", def.Name)
			}
			return nil
		},
	}
}

func evaluateAchievementsCommand() *cli.Command {
	return &cli.Command{
		Name:  "evaluate-achievements",
		Usage: "re-evaluate achievements for every user",
		Action: func(c *cli.Context) error {
			db, err := openDB(c)
			if err != nil {
				return err
			}
			n, err := services.NewAchievementService(db).SweepAll(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("Unlocked %d achievements\n", n)
			return nil
		},
	}
}
