// Command sandbox runs one analysis through the inference gateway and prints
// the normalized result.
//
//	sandbox [-hint text] <image path | raw text>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nutrition-bot/internal/config"
	"nutrition-bot/internal/gpt"
	"nutrition-bot/pkg/logger"
)

func main() {
	hint := flag.String("hint", "", "clarification hint appended to the request")
	timeout := flag.Duration("timeout", time.Minute, "request timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-hint text] <image path | raw text>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	l := logger.NewDevelopment()
	defer func() { _ = l.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		l.Fatalw("Failed to load config", "error", err)
	}
	if cfg.GPT.APIKey == "" {
		l.Fatalw("GPT API key is not configured")
	}

	in, err := readInput(strings.Join(flag.Args(), " "))
	if err != nil {
		l.Fatalw("Failed to read input", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	gateway := gpt.NewGateway(gpt.NewClient(cfg.GPT.APIKey).WithModel(cfg.GPT.Model), l)
	res := gateway.Analyze(ctx, in, *hint)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(gpt.Summarize(res)); err != nil {
		l.Fatalw("Failed to encode result", "error", err)
	}
}

// readInput treats an existing file as an image and anything else as text.
func readInput(arg string) (gpt.Input, error) {
	info, err := os.Stat(arg)
	if err != nil || info.IsDir() {
		return gpt.Input{Text: arg}, nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return gpt.Input{}, err
	}
	return gpt.Input{Image: data, ImageMIME: imageMIME(arg)}, nil
}

func imageMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	}
	return "image/jpeg"
}
