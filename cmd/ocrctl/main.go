package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/config"
	"github.com/foxxcyber/dococr/internal/pdf"
	"github.com/foxxcyber/dococr/internal/services"
)

func main() {
	godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	passwordFlag := &cli.StringFlag{Name: "password", Usage: "password for an encrypted PDF"}
	promptFlag := &cli.StringFlag{Name: "prompt", Usage: "prompt sent to the model", Value: services.DefaultPrompt}

	app := &cli.App{
		Name:  "ocrctl",
		Usage: "run the OCR pipeline from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: []string{"LOG_LEVEL"}, Value: "warn"},
			&cli.StringFlag{Name: "backend", Usage: "command, tesseract or vision", EnvVars: []string{"OCR_BACKEND"}},
			&cli.IntFlag{Name: "dpi", Usage: "PDF render resolution", EnvVars: []string{"PDF_DPI"}},
		},
		Commands: []*cli.Command{
			{
				Name:      "image",
				Usage:     "OCR a single image file or http(s) URL",
				ArgsUsage: "<path|url>",
				Flags:     []cli.Flag{promptFlag},
				Action: func(c *cli.Context) error {
					target, err := requireArg(c)
					if err != nil {
						return err
					}
					return withPipeline(c, func(p *services.Pipeline) error {
						if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
							result, err := p.OCR.RunOnURL(c.Context, target, c.String("prompt"))
							return emit(result, err)
						}
						result, err := p.OCR.RunOnPath(c.Context, target, c.String("prompt"))
						return emit(result, err)
					})
				},
			},
			{
				Name:      "pdf",
				Usage:     "OCR every page of a PDF",
				ArgsUsage: "<file.pdf>",
				Flags:     []cli.Flag{passwordFlag, promptFlag},
				Action: func(c *cli.Context) error {
					data, err := readArg(c)
					if err != nil {
						return err
					}
					return withPipeline(c, func(p *services.Pipeline) error {
						result, err := p.Document.Process(c.Context, data, password(c), c.String("prompt"))
						return emit(result, err)
					})
				},
			},
			{
				Name:      "split",
				Usage:     "render every page of a PDF to PNG files",
				ArgsUsage: "<file.pdf>",
				Flags:     []cli.Flag{passwordFlag},
				Action: func(c *cli.Context) error {
					data, err := readArg(c)
					if err != nil {
						return err
					}
					return withPipeline(c, func(p *services.Pipeline) error {
						result, err := p.Document.Split(c.Context, data, password(c))
						return emit(result, err)
					})
				},
			},
			{
				Name:      "info",
				Usage:     "show page count and encryption of a PDF",
				ArgsUsage: "<file.pdf>",
				Flags:     []cli.Flag{passwordFlag},
				Action: func(c *cli.Context) error {
					data, err := readArg(c)
					if err != nil {
						return err
					}
					info, err := pdf.Inspect(data, password(c))
					return emit(info, err)
				},
			},
			{
				Name:  "sweep",
				Usage: "remove stale run directories and temporary files",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "max-age", Usage: "remove entries older than this", Value: 24 * time.Hour},
				},
				Action: func(c *cli.Context) error {
					cfg := loadConfig(c)
					janitor := services.NewJanitor(services.RunDirs(cfg), c.Duration("max-age"), nil, 0, newLogger(c))
					fmt.Printf("removed %d entries\n", janitor.Sweep(c.Context))
					return nil
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		level = logrus.WarnLevel
	}
	log.SetLevel(level)
	return log
}

func loadConfig(c *cli.Context) *config.Config {
	cfg := config.Load()
	if b := c.String("backend"); b != "" {
		cfg.OCRBackend = b
	}
	if dpi := c.Int("dpi"); dpi > 0 {
		cfg.PDFDPI = dpi
	}
	return cfg
}

func withPipeline(c *cli.Context, fn func(*services.Pipeline) error) error {
	p, err := services.NewPipeline(loadConfig(c), newLogger(c))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer p.Close()
	return fn(p)
}

func requireArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit(fmt.Sprintf("usage: ocrctl %s %s", c.Command.Name, c.Command.ArgsUsage), 2)
	}
	return c.Args().First(), nil
}

func readArg(c *cli.Context) ([]byte, error) {
	path, err := requireArg(c)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}
	return data, nil
}

func password(c *cli.Context) *string {
	if !c.IsSet("password") {
		return nil
	}
	pw := c.String("password")
	return &pw
}

// emit prints v as JSON, or the error kind and message on failure
func emit(v interface{}, err error) error {
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", apperr.KindOf(err), err), 1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
