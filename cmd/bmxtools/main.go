// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// bmxtools is a command line tool to fetch and inspect the datasets used to train binarized models,
// and to summarize the symbol files of models to be converted.
//
// Examples:
//
//	bmxtools -data ~/work/cifar -fetch -options -aug 2 -mean_sub
//	bmxtools -inspect ~/work/cifar/cifar/train.rec -mean
//	bmxtools -symbol models/resnet18-symbol.json
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/bmxtools/examples/cifar"
	"github.com/gomlx/bmxtools/ml/data"
	"github.com/gomlx/bmxtools/ml/data/downloader"
	"github.com/gomlx/bmxtools/pkg/support/fsutil"
	"github.com/gomlx/bmxtools/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagDataDir = flag.String("data", "~/work/cifar", "Directory where the dataset is stored.")
	flagFetch   = flag.Bool("fetch", false, "Fetch Cifar-10 into --data, if not there yet.")
	flagOptions = flag.Bool("options", false, "Print the options of the training and validation iterators.")
	flagConfig  = flag.String("config", "", "YAML file with the augmentation configuration. "+
		"Flags explicitly set take precedence.")
	flagAugLevel   = flag.Int("aug", 1, "Augmentation level of the training data: 0 (none) to 3.")
	flagMeanSub    = flag.Bool("mean_sub", false, "Subtract the RGB mean from the images.")
	flagBatchSize  = flag.Int("batch", 128, "Batch size.")
	flagDataShape  = xslices.Flag("shape", []int{3, 28, 28}, "Shape of the images as channels,height,width.",
		parseDimension)
	flagDType      = flag.String("dtype", "", "DType of the images: float32 (default), float16, float64 or uint8.")
	flagNumWorkers = flag.Int("workers", 4, "Number of threads decoding images.")
	flagInspect    = flag.String("inspect", "", "RecordIO file (.rec) to inspect.")
	flagMaxRecords = flag.Int("max_records", 10, "Maximum number of records listed by --inspect.")
	flagMean       = flag.Bool("mean", false, "Compute the per-channel mean and standard deviation of the --inspect file.")
	flagSymbol     = flag.String("symbol", "", "Symbol JSON file of a model to summarize.")
	flagNoColor    = flag.Bool("no_color", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if !*flagFetch && !*flagOptions && *flagInspect == "" && *flagSymbol == "" {
		klog.Errorf("Nothing to do: use at least one of -fetch, -options, -inspect or -symbol. See 'bmxtools -help'.")
		os.Exit(1)
	}
	if *flagMean && *flagInspect == "" {
		klog.Errorf("-mean requires -inspect to be set.")
		os.Exit(1)
	}

	cfg, err := augmentConfig()
	if err != nil {
		klog.Errorf("Invalid configuration: %+v", err)
		os.Exit(1)
	}
	if *flagFetch {
		dir := fsutil.MustReplaceTildeInDir(cfg.Dir)
		fetcher := &cifar.Fetcher{Downloader: downloader.New()}
		must.M(fetcher.Ensure(dir))
		fmt.Printf("Cifar-10 available in %q\n", dir)
	}
	if *flagOptions {
		train, val := data.BuildOptions(cfg)
		fmt.Println(titleStyle.Render("Training iterator"))
		fmt.Println(optionsTable(train))
		fmt.Println(titleStyle.Render("Validation iterator"))
		fmt.Println(optionsTable(val))
	}
	if *flagInspect != "" {
		must.M(inspect(*flagInspect, cfg))
	}
	if *flagSymbol != "" {
		must.M(summarizeSymbol(*flagSymbol))
	}
}

// augmentConfig builds the configuration from the defaults, the optional --config file and the flags
// explicitly set in the command line, in this order of precedence.
func augmentConfig() (data.AugmentConfig, error) {
	cfg := data.DefaultAugmentConfig()
	cfg.BatchSize = *flagBatchSize
	cfg.DataShape = slices.Clone(*flagDataShape)
	cfg.Dir = *flagDataDir
	cfg.AugLevel = *flagAugLevel
	cfg.MeanSubtraction = *flagMeanSub
	cfg.NumWorkers = *flagNumWorkers
	cfg.DType = *flagDType
	if *flagConfig != "" {
		fileCfg, err := data.LoadAugmentConfig(*flagConfig, cfg)
		if err != nil {
			return cfg, err
		}
		cfg = overrideWithFlags(fileCfg, setFlags())
	}
	if len(cfg.DataShape) != 3 {
		return cfg, errors.Errorf("data shape must be given as channels,height,width, got %v", cfg.DataShape)
	}
	return cfg, nil
}

// parseDimension parses one axis dimension of the -shape flag.
func parseDimension(text string) (int, error) {
	dim, err := strconv.Atoi(text)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid dimension %q", text)
	}
	if dim <= 0 {
		return 0, errors.Errorf("invalid dimension %d, dimensions must be > 0", dim)
	}
	return dim, nil
}

// setFlags returns the names of the flags explicitly set in the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// overrideWithFlags sets in cfg the values of the flags explicitly set.
func overrideWithFlags(cfg data.AugmentConfig, set map[string]bool) data.AugmentConfig {
	if set["batch"] {
		cfg.BatchSize = *flagBatchSize
	}
	if set["shape"] {
		cfg.DataShape = slices.Clone(*flagDataShape)
	}
	if set["data"] {
		cfg.Dir = *flagDataDir
	}
	if set["aug"] {
		cfg.AugLevel = *flagAugLevel
	}
	if set["mean_sub"] {
		cfg.MeanSubtraction = *flagMeanSub
	}
	if set["workers"] {
		cfg.NumWorkers = *flagNumWorkers
	}
	if set["dtype"] {
		cfg.DType = *flagDType
	}
	return cfg
}
