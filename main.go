package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/gregLibert/zvt-ecr/pkg/packets"
	"github.com/gregLibert/zvt-ecr/pkg/terminal"
)

// demoConfig is the YAML file the demo reads; flags override it.
type demoConfig struct {
	Device       string `yaml:"device"`
	Password     string `yaml:"password"`
	Currency     uint16 `yaml:"currency"`
	AmountCents  uint64 `yaml:"amount_cents"`
	InsertDelays bool   `yaml:"insert_delays"`
}

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	device := flag.String("device", "", "device address (/dev/ttyUSB0, COM3, socket://host:port)")
	amount := flag.Uint64("amount", 0, "payment amount in cents")
	verbose := flag.BoolP("verbose", "v", false, "log protocol traffic")
	flag.Parse()

	cfg := demoConfig{
		Device:       "socket://192.168.1.35:20007",
		Password:     "123456",
		Currency:     978,
		AmountCents:  1,
		InsertDelays: true,
	}
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatalf("read config: %v", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Fatalf("parse config: %v", err)
		}
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *amount > 0 {
		cfg.AmountCents = *amount
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "zvt"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
		packets.SetLogger(logger)
	}

	// --- 1. Connection Setup ---
	ecr, err := terminal.New(terminal.Config{
		Device:       cfg.Device,
		Password:     cfg.Password,
		Currency:     cfg.Currency,
		InsertDelays: cfg.InsertDelays,
		Logger:       logger,
		Printer:      printer,
		StatusListener: func(code byte) {
			logger.Info("terminal", "status", packets.IntermediateStatusDescription(code))
		},
	})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer func() {
		if err := ecr.Close(); err != nil {
			logger.Warn("close", "err", err)
		}
	}()

	// --- 2. Execution Flow ---

	step1Register(ecr)
	step2WaitReady(ecr, logger)
	step3Payment(ecr, logger, cfg.AmountCents)

	fmt.Println("\n>> Demo Finished")
}

// =========================================================================
// Helper Functions
// =========================================================================

func printer(lines []string) {
	fmt.Println("-------- printer ---------")
	for _, line := range lines {
		fmt.Println(line)
	}
	fmt.Println("-------- printer EOF -----")
}

// step1Register registers the ECR, claiming receipt printing and the
// admin menu.
func step1Register(ecr *terminal.ECR) {
	fmt.Println("\n=============================================")
	fmt.Println(" Step 1: REGISTRATION")
	fmt.Println("=============================================")

	config := packets.DefaultRegistrationConfig()
	if err := ecr.Register(config.Byte()); err != nil {
		log.Fatalf("registration failed: %v", err)
	}

	if tid := ecr.TerminalID(); tid != 0 {
		fmt.Printf(">> Registered at terminal %08d\n", tid)
	} else {
		fmt.Println(">> Registered (terminal id not reported)")
	}
}

// step2WaitReady polls the terminal status, running an end-of-day
// batch if the terminal demands one.
func step2WaitReady(ecr *terminal.ECR, logger *log.Logger) {
	fmt.Println("\n=============================================")
	fmt.Println(" Step 2: STATUS")
	fmt.Println("=============================================")

	status, err := ecr.Status()
	if err != nil {
		log.Fatalf("status enquiry failed: %v", err)
	}
	if v := ecr.Version(); v != "" {
		fmt.Printf(">> Terminal software: %s\n", v)
	}

	if status == 0x9C {
		fmt.Println(">> End-of-day batch required, running it now")
		summary, err := ecr.EndOfDay()
		if err != nil {
			log.Fatalf("end of day failed: %v", err)
		}
		if summary != nil {
			fmt.Printf(">> %d transactions, %.2f total\n",
				summary.TotalCount, float64(summary.Amount)/100)
		}
		printer(ecr.Daylog())
		return
	}

	if status != 0 {
		logger.Warn("terminal not ready", "status", packets.TerminalStatusDescription(status))
		if err := ecr.WaitForStatus(); err != nil {
			log.Fatalf("waiting for terminal: %v", err)
		}
	}
	fmt.Println(">> Terminal ready")
}

// step3Payment authorises the configured amount and reports the
// outcome on the terminal display.
func step3Payment(ecr *terminal.ECR, logger *log.Logger, amountCents uint64) {
	fmt.Println("\n=============================================")
	fmt.Printf(" Step 3: PAYMENT OF %d CENT(S)\n", amountCents)
	fmt.Println("=============================================")

	start := time.Now()
	ok, err := ecr.Payment(amountCents)
	if err != nil {
		log.Fatalf("payment failed: %v", err)
	}

	if ok {
		fmt.Printf(">> Payment approved after %s\n", time.Since(start).Round(time.Millisecond))
		printer(ecr.LastPrintout())
		if err := ecr.ShowText([]string{"Auf Wiedersehen!", "", "Zahlung erfolgt"}, 5, 1); err != nil {
			logger.Warn("display", "err", err)
		}
		return
	}

	reason := "declined"
	if abort, isAbort := ecr.Last().Completion.(*packets.Abort); isAbort {
		reason = abort.Description()
	}
	fmt.Printf(">> Payment not completed: %s\n", reason)
	if err := ecr.ShowText([]string{"Auf Wiedersehen!", "", "Vorgang abgebrochen"}, 5, 2); err != nil {
		logger.Warn("display", "err", err)
	}
}
