package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"brandforge/internal/app"
	"brandforge/internal/config"
	"brandforge/internal/db"
	"brandforge/internal/domain"
	"brandforge/internal/engine"
	"brandforge/internal/migrate"
	"brandforge/internal/repo"
	"brandforge/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bf",
	Short: "Brandforge CLI",
	Long: `Brandforge takes a brand through a strategy pipeline: founder answers in,
reviewed strategy documents out.
Core concepts:
- Workspace: your .brandforge directory with the database; config is stored in the DB.
- Brand: the entity being worked on; it moves through phases from fiche to cockpit.
- Slots: fixed content containers per brand (identite, positionnement, audience, ...).
- Modules: units of work that read slots and answers and write slot content.
- Phases: fiche -> fiche-review -> audit-r -> market-study -> audit-t ->
  audit-review -> implementation -> cockpit -> complete. Review phases gate
  progress on a human commit.
- Event log: diary of changes, view with 'bf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BRANDFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("brand", "", "brand id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("brand", rootCmd.PersistentFlags().Lookup("brand"))
}

func registerCommands() {
	rootCmd.AddCommand(brandCmd())
	rootCmd.AddCommand(answersCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(slotCmd())
	rootCmd.AddCommand(moduleCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(studyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func brandCmd() *cobra.Command {
	brand := &cobra.Command{Use: "brand", Short: "Manage brands"}
	brand.AddCommand(brandCreateCmd())
	brand.AddCommand(brandListCmd())
	brand.AddCommand(brandShowCmd())
	brand.AddCommand(brandDeleteCmd())
	return brand
}

func brandCreateCmd() *cobra.Command {
	var name, sector, id string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a brand with its full slot set",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.CreateBrand(ctx, engine.BrandCreateOptions{
					ID:      id,
					Name:    name,
					Sector:  sector,
					OwnerID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "brand name")
	cmd.Flags().StringVar(&sector, "sector", "", "business sector")
	cmd.Flags().StringVar(&id, "id", "", "brand id (generated when empty)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func brandListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List brands owned by the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				brands, err := r.ListBrands(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(brands)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Phase", "Status", "Updated"})
				for _, b := range brands {
					tw.AppendRow(table.Row{b.ID, b.Name, b.Phase, b.Status, b.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func brandShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a brand with its slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.GetBrand(ctx, brandID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				slots, err := e.ListParsedSlots(ctx, brandID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"brand": b, "slots": slots})
				}
				fmt.Printf("%s (%s)\nphase: %s  status: %s\n\n", b.Name, b.ID, b.Phase, b.Status)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Slot", "Status", "Version", "Parse"})
				for _, s := range slots {
					parse := "ok"
					if s.ParseError != "" {
						parse = s.ParseError
					}
					tw.AppendRow(table.Row{s.Slot.Type, s.Slot.Status, s.Slot.Version, parse})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func brandDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a brand and everything attached to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.GetBrand(ctx, brandID, viper.GetString("actor-id")); err != nil {
					return err
				}
				return e.Repo.DeleteBrand(ctx, brandID)
			})
		},
	}
	return cmd
}

func answersCmd() *cobra.Command {
	answers := &cobra.Command{Use: "answers", Short: "Manage founder answers"}
	answers.AddCommand(answersSetCmd())
	answers.AddCommand(answersShowCmd())
	return answers
}

func answersSetCmd() *cobra.Command {
	var pairs []string
	var fromFile string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set answer keys (merges into the current map)",
		RunE: func(cmd *cobra.Command, args []string) error {
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				b, err := e.GetBrand(ctx, brandID, actor)
				if err != nil {
					return err
				}
				merged := map[string]string{}
				for k, v := range b.Answers {
					merged[k] = v
				}
				if fromFile != "" {
					data, err := os.ReadFile(fromFile)
					if err != nil {
						return err
					}
					var m map[string]string
					if err := json.Unmarshal(data, &m); err != nil {
						return fmt.Errorf("answers file: %w", err)
					}
					for k, v := range m {
						merged[k] = v
					}
				}
				for _, pair := range pairs {
					key, value, ok := strings.Cut(pair, "=")
					if !ok {
						return fmt.Errorf("expected key=value, got %q", pair)
					}
					merged[key] = value
				}
				updated, err := e.SaveAnswers(ctx, brandID, merged, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "set", nil, "answer as key=value (repeatable)")
	cmd.Flags().StringVar(&fromFile, "file", "", "JSON file with a string map of answers")
	return cmd
}

func answersShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the brand's answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.GetBrand(ctx, brandID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(b.Answers)
				}
				keys := make([]string, 0, len(b.Answers))
				for k := range b.Answers {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Value"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k, b.Answers[k]})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func phaseCmd() *cobra.Command {
	ph := &cobra.Command{Use: "phase", Short: "Move the brand through the pipeline"}
	ph.AddCommand(phaseAdvanceCmd())
	ph.AddCommand(phaseRevertCmd())
	return ph
}

func phaseAdvanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance <target>",
		Short: "Advance the brand to a later phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Advance(ctx, brandID, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func phaseRevertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <target>",
		Short: "Revert the brand to an earlier phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Revert(ctx, brandID, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func reviewCmd() *cobra.Command {
	review := &cobra.Command{Use: "review", Short: "Commit human review phases"}
	review.AddCommand(reviewFicheCmd())
	review.AddCommand(reviewAuditsCmd())
	return review
}

func reviewFicheCmd() *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "fiche",
		Short: "Commit reviewed answers and advance past fiche review",
		RunE: func(cmd *cobra.Command, args []string) error {
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				answers := map[string]string{}
				if fromFile != "" {
					data, err := os.ReadFile(fromFile)
					if err != nil {
						return err
					}
					if err := json.Unmarshal(data, &answers); err != nil {
						return fmt.Errorf("answers file: %w", err)
					}
				} else {
					b, err := e.GetBrand(ctx, brandID, actor)
					if err != nil {
						return err
					}
					answers = b.Answers
				}
				b, err := e.SaveAnswersAndAdvance(ctx, brandID, answers, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&fromFile, "file", "", "JSON file with the reviewed answers (defaults to current answers)")
	return cmd
}

func reviewAuditsCmd() *cobra.Command {
	var auditRFile, auditTFile string
	cmd := &cobra.Command{
		Use:   "audits",
		Short: "Commit reviewed audits and advance past audit review",
		RunE: func(cmd *cobra.Command, args []string) error {
			if auditRFile == "" || auditTFile == "" {
				return fmt.Errorf("--audit-r and --audit-t files required")
			}
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			readDoc := func(path string) (map[string]any, error) {
				data, err := os.ReadFile(path)
				if err != nil {
					return nil, err
				}
				var doc map[string]any
				if err := json.Unmarshal(data, &doc); err != nil {
					return nil, fmt.Errorf("%s: %w", path, err)
				}
				return doc, nil
			}
			auditR, err := readDoc(auditRFile)
			if err != nil {
				return err
			}
			auditT, err := readDoc(auditTFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.CommitAuditsAndAdvance(ctx, brandID, auditR, auditT, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&auditRFile, "audit-r", "", "JSON file with the rational audit document")
	cmd.Flags().StringVar(&auditTFile, "audit-t", "", "JSON file with the tonal audit document")
	return cmd
}

func slotCmd() *cobra.Command {
	slot := &cobra.Command{Use: "slot", Short: "Inspect slot content"}
	slot.AddCommand(slotShowCmd())
	return slot
}

func slotShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <type>",
		Short: "Show one slot's parsed content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ps, err := e.GetParsedSlot(ctx, brandID, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ps)
				}
				fmt.Printf("slot %s  status=%s version=%d\n", ps.Slot.Type, ps.Slot.Status, ps.Slot.Version)
				if ps.ParseError != "" {
					fmt.Printf("parse: %s\n", ps.ParseError)
				}
				b, _ := json.MarshalIndent(ps.Doc, "", "  ")
				fmt.Println(string(b))
				return nil
			})
		},
	}
	return cmd
}

func moduleCmd() *cobra.Command {
	mod := &cobra.Command{Use: "module", Short: "List and run modules"}
	mod.AddCommand(moduleListCmd())
	mod.AddCommand(moduleRunCmd())
	return mod
}

func moduleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				handlers := e.Registry.All()
				if viper.GetBool("json") {
					descs := make([]any, 0, len(handlers))
					for _, h := range handlers {
						descs = append(descs, h.Descriptor)
					}
					return printJSON(descs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Category", "Auto", "Description"})
				for _, h := range handlers {
					tw.AppendRow(table.Row{h.Descriptor.ID, h.Descriptor.Category, h.Descriptor.AutoTrigger, h.Descriptor.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func moduleRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <module-id>",
		Short: "Run a module against the brand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result := e.ExecuteModule(ctx, args[0], brandID, viper.GetString("actor-id"), "manual")
				if !result.Success {
					if err := printJSONOrTable(result); err != nil {
						return err
					}
					return fmt.Errorf("module %s failed: %s", args[0], result.Error)
				}
				return printJSONOrTable(result)
			})
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Module run history"}
	run.AddCommand(runListCmd())
	return run
}

func runListCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List module runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.ListRuns(ctx, brandID, viper.GetString("actor-id"), n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Module", "Status", "Trigger", "Duration", "Created"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.ModuleID, r.Status, r.TriggeredBy, fmt.Sprintf("%dms", r.DurationMs), r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of runs")
	return cmd
}

func studyCmd() *cobra.Command {
	study := &cobra.Command{Use: "study", Short: "Manage the market study"}
	study.AddCommand(studySetCmd())
	study.AddCommand(studyShowCmd())
	return study
}

func studySetCmd() *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Attach or replace the market study from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromFile == "" {
				return fmt.Errorf("--file required")
			}
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(fromFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SaveStudy(ctx, brandID, string(data), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&fromFile, "file", "", "JSON file with the study data")
	return cmd
}

func studyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the brand's market study",
		RunE: func(cmd *cobra.Command, args []string) error {
			brandID, err := requireBrand()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetStudy(ctx, brandID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := app.ResolveConfig(ctx, r)
				if err != nil {
					return err
				}
				return printJSON(cfg)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import brandforge.yml into the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fromFile
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(path)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertWorkspaceConfig(ctx, cfg); err != nil {
					return err
				}
				fmt.Printf("imported %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fromFile, "file", "", "config file (defaults to <workspace>/brandforge.yml)")
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default brandforge.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			return os.WriteFile(path, []byte(config.GenerateDefault()), 0o644)
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				// The plaintext key is shown once and never stored.
				plaintext := "bf_" + strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
				key := domain.APIKey{
					ID:      uuid.New().String(),
					UserID:  viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(plaintext),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "key": plaintext})
				}
				fmt.Printf("API key created (id=%s). Store it now; it is not shown again:\n%s\n", key.ID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: brand changes, phase moves, module runs.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, viper.GetString("brand"), evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:              os.Getenv("BRANDFORGE_JWT_SECRET"),
					AllowLegacyActorHeader: e.Config.Server.AllowLegacyActorHeader,
					Logger:                 e.Logger,
				}
				if authCfg.JWTSecret == "" {
					authCfg.JWTSecret = e.Config.Server.JWTSecret
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Brandforge API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func requireBrand() (string, error) {
	brandID := strings.TrimSpace(viper.GetString("brand"))
	if brandID == "" {
		return "", fmt.Errorf("brand not specified; use --brand or set BRANDFORGE_BRAND")
	}
	return brandID, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, r)
	if err != nil {
		return err
	}
	registry, err := app.NewRegistry(nil)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, registry, nil)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
