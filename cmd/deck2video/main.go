package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/engine"
	"github.com/ivlev/deck2video/internal/history"
	"github.com/ivlev/deck2video/internal/logging"
	"github.com/ivlev/deck2video/internal/raster"
	"github.com/ivlev/deck2video/internal/source"
	"github.com/ivlev/deck2video/internal/system"
	"github.com/ivlev/deck2video/internal/timeline"
	"github.com/ivlev/deck2video/internal/video"
)

// BuildVersion is set with -ldflags "-X main.BuildVersion=...".
var BuildVersion = "dev"

const (
	exitEncoding = 1
	exitInput    = 2
)

func main() {
	configPtr := flag.String("config", "", "YAML config file")
	inputPtr := flag.String("input", "", "Deck (.yaml/.json), PDF or image folder (default: newest deck in input/decks/)")
	outputPtr := flag.String("output", "", "Output video (default: generated in output/)")
	widthPtr := flag.Int("width", config.DefaultWidth, "Width")
	heightPtr := flag.Int("height", config.DefaultHeight, "Height")
	fpsPtr := flag.Int("fps", config.DefaultFPS, "FPS")
	workersPtr := flag.Int("workers", runtime.NumCPU(), "Parallel slides")
	slidePtr := flag.Float64("slide-duration", config.DefaultSlideDuration, "Time each slide is held, seconds")
	transitionPtr := flag.Float64("transition-duration", config.DefaultTransitionDuration, "Transition length, seconds")
	transitionsPtr := flag.String("transitions", strings.Join(config.DefaultTransitions, ","), "Transition cycle: fade, slide_left, slide_right, zoom")
	dpiPtr := flag.Int("dpi", 150, "DPI for PDF pages")
	fontPtr := flag.String("font", "", "TTF/OTF font for text runs (default: Go Regular)")
	encoderPtr := flag.String("encoder", "", "H.264 encoder (default: best available)")
	bitratePtr := flag.String("bitrate", config.DefaultBitrate, "Video bitrate")
	overwritePtr := flag.Bool("overwrite", false, "Replace an existing output file")
	manifestPtr := flag.Bool("manifest", false, "Write <output>.timeline.yaml")
	probePtr := flag.Bool("probe", false, "Verify the result with ffprobe")
	statsPtr := flag.Bool("stats", false, "Print a performance report and append to benchmark.log")
	historyPtr := flag.String("history", "", "sqlite file recording runs")
	logLevelPtr := flag.String("log-level", "info", "debug, info, warn, error")
	logFormatPtr := flag.String("log-format", "text", "text or json")
	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		log.Fatalf("[-] Ошибка конфигурации: %v", err)
	}

	// Flags win over file and environment, but only when given.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "width":
			cfg.Width = *widthPtr
		case "height":
			cfg.Height = *heightPtr
		case "fps":
			cfg.FPS = *fpsPtr
		case "workers":
			cfg.Workers = *workersPtr
		case "slide-duration":
			cfg.SlideDuration = *slidePtr
		case "transition-duration":
			cfg.TransitionDuration = *transitionPtr
		case "transitions":
			cfg.Transitions = splitList(*transitionsPtr)
		case "dpi":
			cfg.DPI = *dpiPtr
		case "font":
			cfg.FontPath = *fontPtr
		case "encoder":
			cfg.VideoEncoder = *encoderPtr
		case "bitrate":
			cfg.Bitrate = *bitratePtr
		case "overwrite":
			cfg.Overwrite = *overwritePtr
		case "manifest":
			cfg.Manifest = *manifestPtr
		case "probe":
			cfg.Probe = *probePtr
		case "stats":
			cfg.ShowStats = *statsPtr
		case "history":
			cfg.HistoryDB = *historyPtr
		case "log-level":
			cfg.LogLevel = *logLevelPtr
		case "log-format":
			cfg.LogFormat = *logFormatPtr
		}
	})
	// All cores unless something asked for a specific count.
	if !isSet("workers") && os.Getenv("DECK2VIDEO_WORKERS") == "" && cfg.Workers == 1 {
		cfg.Workers = *workersPtr
	}
	cfg.BuildVersion = BuildVersion

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	system.InitResourceLimits(logger)

	for _, d := range []string{"input/decks", cfg.OutputDir} {
		os.MkdirAll(d, 0755)
	}

	if _, err := system.CheckFFmpeg(); err != nil {
		log.Fatalf("[-] Ошибка: %v", err)
	}

	cfg.InputPath = *inputPtr
	if cfg.InputPath == "" {
		latest, err := system.FindLatestDeck("input/decks")
		if err != nil {
			log.Fatalf("[-] Ошибка: %v. Положите презентацию в input/decks/", err)
		}
		cfg.InputPath = latest
		fmt.Printf("[*] Выбран файл: %s\n", cfg.InputPath)
	}

	cfg.OutputVideo = *outputPtr
	if cfg.OutputVideo == "" {
		cfg.OutputVideo = autoOutputName(cfg.OutputDir, cfg.InputPath, time.Now())
	}

	if !isSet("encoder") && cfg.VideoEncoder == config.DefaultVideoEncoder {
		cfg.VideoEncoder = system.GetBestH264Encoder()
		if cfg.VideoEncoder != config.DefaultVideoEncoder {
			fmt.Printf("[*] Обнаружено аппаратное ускорение: %s\n", cfg.VideoEncoder)
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[-] Неверные параметры:\n%v", err)
	}

	os.Exit(execute(cfg, logger))
}

func execute(cfg *config.Config, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := source.Load(ctx, cfg.InputPath, cfg.DPI, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[-] Ошибка чтения презентации: %v\n", err)
		return exitInput
	}
	fmt.Printf("[*] Источник: %s | Слайдов: %d\n", cfg.InputPath, len(d.Slides))
	fmt.Printf("[*] Разрешение: %dx%d @ %d FPS | Потоков: %d\n", cfg.Width, cfg.Height, cfg.FPS, cfg.Workers)

	fonts, err := raster.NewFontCache(cfg.FontPath)
	if err != nil {
		fmt.Printf("[!] Шрифт не загружен (%v), используется встроенный\n", err)
		fonts = raster.BasicFontCache()
	}
	defer fonts.Close()

	var runs history.Repository
	if cfg.HistoryDB != "" {
		db, err := history.Open(cfg.HistoryDB, logger)
		if err != nil {
			fmt.Printf("[!] История запусков недоступна: %v\n", err)
		} else {
			defer db.Close()
			runs = history.NewRepository(db)
		}
	}

	var run *history.Run
	if runs != nil {
		run = &history.Run{Deck: cfg.InputPath, Output: cfg.OutputVideo}
		if err := runs.Create(ctx, run); err != nil {
			logger.Warn("run not recorded", "error", err)
			run = nil
		}
	}

	// The previous timeline, if any, is read before the run replaces it.
	var previous *timeline.Manifest
	if cfg.Manifest {
		previous, _ = timeline.Read(timeline.ManifestPath(cfg.OutputVideo))
	}

	project := engine.NewVideoProject(cfg, video.NewFFmpegEncoder(cfg, logger), fonts, logger)
	res, err := project.Run(ctx, d, cfg.OutputVideo)

	if run != nil {
		out := history.Outcome{Err: err}
		if res != nil {
			out.Slides, out.Fallbacks, out.Bytes = len(res.Slides), res.Fallbacks, res.Bytes
		}
		if ferr := runs.Finish(context.WithoutCancel(ctx), run.ID, out); ferr != nil {
			logger.Warn("run outcome not recorded", "error", ferr)
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "[-] Ошибка проекта: %v\n", err)
		var fatal *engine.FatalInputError
		if errors.As(err, &fatal) {
			return exitInput
		}
		return exitEncoding
	}

	for _, s := range res.Slides {
		marker := "[>]"
		if s.Fallback {
			marker = "[!]"
		}
		fmt.Printf("%s Слайд %d/%d: %s, %.2fs, %d кадров\n", marker, s.Index, len(res.Slides), s.Transition, s.Duration, s.Frames)
	}
	if res.Manifest != "" {
		fmt.Printf("[*] Таймлайн: %s\n", res.Manifest)
		if current, err := timeline.Read(res.Manifest); err == nil && previous != nil {
			if changed := timeline.Diff(previous, current); len(changed) > 0 {
				fmt.Printf("[*] Изменились слайды: %v\n", changed)
			} else {
				fmt.Println("[*] Кадры совпадают с предыдущим запуском")
			}
		}
	}

	if cfg.ShowStats {
		fmt.Print(res.Report(cfg.BuildVersion))
		f, err := os.OpenFile("benchmark.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			f.WriteString(res.BenchmarkEntry(cfg.BuildVersion, cfg.InputPath))
			f.Close()
		} else {
			fmt.Printf("[!] Не удалось записать benchmark.log: %v\n", err)
		}
	}

	fmt.Printf("[+++] Успех! Результат: %s\n", res.OutputPath)
	return 0
}

func isSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// autoOutputName derives output/<input>_<timestamp>.mp4 from the input name.
func autoOutputName(dir, input string, now time.Time) string {
	baseName := filepath.Base(strings.TrimRight(input, string(filepath.Separator)))
	nameOnly := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	cleanName := strings.ReplaceAll(nameOnly, " ", "_")
	timestamp := now.Format("2006-01-02_15-04-05")
	return filepath.Join(dir, fmt.Sprintf("%s_%s.mp4", cleanName, timestamp))
}
