package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/japaniel/kinenrich/pkg/db"
	"github.com/japaniel/kinenrich/pkg/enrich"
	"github.com/japaniel/kinenrich/pkg/importer"
	"github.com/japaniel/kinenrich/pkg/inference"
	"github.com/japaniel/kinenrich/pkg/kinetics"
	"github.com/japaniel/kinenrich/pkg/paramstore"
	"github.com/japaniel/kinenrich/pkg/source"
)

// readReactions accepts a JSON array of reactions or a single reaction object.
func readReactions(path string) ([]kinetics.ReactionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var rec kinetics.ReactionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return []kinetics.ReactionRecord{rec}, nil
	}
	var recs []kinetics.ReactionRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return recs, nil
}

func newInferCmd(a *app) *cobra.Command {
	var (
		organism   string
		noCache    bool
		background bool
		persist    bool
	)
	cmd := &cobra.Command{
		Use:   "infer <reactions.json>",
		Short: "Infer kinetic parameters for the reactions in a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := readReactions(args[0])
			if err != nil {
				return err
			}
			opts := inference.Options{
				UseBackgroundFetch: a.cfg.Inference.UseBackgroundFetch,
				PersistHeuristics:  a.cfg.Inference.PersistHeuristics,
				Organism:           a.cfg.Inference.Organism,
				MinConfidence:      a.cfg.Store.MinConfidence,
				SessionCacheSize:   a.cfg.Inference.SessionCacheSize,
				Logger:             a.log,
			}
			if cmd.Flags().Changed("background") {
				opts.UseBackgroundFetch = background
			}
			if cmd.Flags().Changed("persist") {
				opts.PersistHeuristics = persist
			}
			engine, err := inference.NewEngine(a.store, opts)
			if err != nil {
				return err
			}
			useCache := a.cfg.Inference.UseCache && !noCache
			results := make([]kinetics.InferenceResult, 0, len(recs))
			for _, rec := range recs {
				results = append(results, engine.Infer(cmd.Context(), rec, organism, useCache))
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&organism, "organism", "", "Target organism (defaults to the reaction's, then the configured one)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the session cache")
	cmd.Flags().BoolVar(&background, "background", false, "Consult the parameter store before falling back to heuristics")
	cmd.Flags().BoolVar(&persist, "persist", false, "Store heuristic results in the parameter store")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		url       string
		chunkSize int
	)
	cmd := &cobra.Command{
		Use:   "import <dump.json|.gz|.tgz>",
		Short: "Import raw kinetic measurements into the parameter store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if url != "" {
				if err := importer.EnsureDataset(cmd.Context(), path, url, a.log); err != nil {
					return err
				}
			}
			recs, err := importer.LoadRawRecords(path)
			if err != nil {
				return err
			}
			im := importer.New(a.store, importer.Options{ChunkSize: chunkSize, Logger: a.log})
			rep, err := im.Import(cmd.Context(), recs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Download the dump from this URL when the file is missing")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", importer.DefaultChunkSize, "Records per transaction")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var organism, substrate string
	cmd := &cobra.Command{
		Use:   "stats <ec> <Km|Kcat|Ki|Vmax>",
		Short: "Compute statistics over raw measurements",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store.ComputeStatistics(cmd.Context(), args[0], args[1], organism, substrate)
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "no measurements for %s %s\n", args[0], args[1])
				return nil
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&organism, "organism", "", "Restrict to one organism")
	cmd.Flags().StringVar(&substrate, "substrate", "", "Restrict to one substrate")
	return cmd
}

func newSummaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Summarise the parameter store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.store.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
}

func newCompatCmd(a *app) *cobra.Command {
	var class, rationale string
	cmd := &cobra.Command{
		Use:   "compat",
		Short: "Read or set organism compatibility scores",
	}
	get := &cobra.Command{
		Use:   "get <source organism> <target organism>",
		Short: "Print the compatibility of two organisms",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := a.store.Compatibility(cmd.Context(), args[0], args[1], class)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", score)
			return nil
		},
	}
	set := &cobra.Command{
		Use:   "set <source organism> <target organism> <score>",
		Short: "Set the compatibility of two organisms",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("score %q: %w", args[2], err)
			}
			return a.store.SetCompatibility(cmd.Context(), db.Compatibility{
				SourceOrganism: args[0],
				TargetOrganism: args[1],
				EnzymeClass:    class,
				Score:          score,
				Rationale:      rationale,
			})
		},
	}
	cmd.PersistentFlags().StringVar(&class, "class", "", "EC class the score applies to (empty for any)")
	set.Flags().StringVar(&rationale, "rationale", "", "Why the organisms are comparable")
	cmd.AddCommand(get, set)
	return cmd
}

func newEnrichCmd(a *app) *cobra.Command {
	var (
		organism   string
		transition string
		categories []string
		allow      []string
		deny       []string
		minQuality float64
	)
	cmd := &cobra.Command{
		Use:   "enrich <ec>",
		Short: "Fetch and apply the best available data for an EC number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ecfg := a.cfg.Enrichment
			p, err := enrich.NewPipeline(enrich.Options{
				Logger:               a.log,
				Provenance:           a.store,
				FetchTimeout:         ecfg.FetchTimeout,
				MaxConcurrentFetches: ecfg.MaxConcurrentFetches,
				Workers:              ecfg.Workers,
			})
			if err != nil {
				return err
			}
			defer p.Close()
			p.Register(
				source.NewStoreFetcher(a.store),
				source.NewWebFetcher(source.WebFetcherOptions{URLTemplate: ecfg.AnnotationURL}),
			)
			p.SetApplier(source.CategoryKinetics, enrich.KineticsApplier{Store: a.store, Defaults: inference.ContinuousDefaults})
			p.SetApplier(source.CategoryAnnotation, enrich.AnnotationApplier)

			req := enrich.Request{Allow: ecfg.Allow, Deny: ecfg.Deny, MinQualityScore: ecfg.MinQualityScore}
			if cmd.Flags().Changed("allow") {
				req.Allow = allow
			}
			if cmd.Flags().Changed("deny") {
				req.Deny = deny
			}
			if cmd.Flags().Changed("min-quality") {
				req.MinQualityScore = minQuality
			}
			for _, name := range categories {
				c, ok := source.ParseCategory(name)
				if !ok {
					return fmt.Errorf("unknown category %q", name)
				}
				req.Categories = append(req.Categories, c)
			}
			if organism == "" {
				organism = a.cfg.Inference.Organism
			}
			target := enrich.TargetFromRecord(kinetics.ReactionRecord{ID: transition, ECNumber: args[0]}, organism)
			if target.ECNumber == "" {
				return fmt.Errorf("%q is not an EC number", args[0])
			}

			out, err := p.Enrich(cmd.Context(), target, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Outcome enrich.Outcome `json:"outcome"`
				Totals  enrich.Totals  `json:"totals"`
			}{out, p.Totals()})
		},
	}
	cmd.Flags().StringVar(&organism, "organism", "", "Target organism")
	cmd.Flags().StringVar(&transition, "transition", "cli", "Transition id recorded in provenance")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "Categories to fill (default all)")
	cmd.Flags().StringSliceVar(&allow, "allow", nil, "Only query these sources")
	cmd.Flags().StringSliceVar(&deny, "deny", nil, "Never query these sources")
	cmd.Flags().Float64Var(&minQuality, "min-quality", 0, "Minimum acceptable quality score")
	return cmd
}

func newPruneCmd(a *app) *cobra.Command {
	var (
		maxAge  time.Duration
		maxRows int
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy to the parameter store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := paramstore.RetentionPolicy{
				MaxAge:  a.cfg.Store.Retention.MaxAge,
				MaxRows: a.cfg.Store.Retention.MaxRows,
			}
			if cmd.Flags().Changed("max-age") {
				policy.MaxAge = maxAge
			}
			if cmd.Flags().Changed("max-rows") {
				policy.MaxRows = maxRows
			}
			rep, err := a.store.Prune(cmd.Context(), policy)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Drop rows unused for longer than this")
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "Keep at most this many parameter rows")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Wipe cached data from the parameter store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.store.Clear(cmd.Context(), paramstore.Scope(scope))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d rows\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(paramstore.ScopeAll), "all, parameters, raw, statistics, query-cache or applications")
	return cmd
}
