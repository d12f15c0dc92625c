package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/permit"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("permit-config - Configuration tool for permit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  permit-config convert <input> <output>  - Convert between formats")
	fmt.Println("  permit-config validate <file>           - Validate configuration")
	fmt.Println("  permit-config stats <file>              - Show configuration statistics")
	fmt.Println("  permit-config apply <file>              - Dry-run apply against an in-memory engine")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permit-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Tenants: %d\n", len(cfg.Tenants))
	fmt.Printf("  Modules: %d\n", len(cfg.Modules))
	fmt.Printf("  Roles: %d\n", len(cfg.Roles))
	fmt.Printf("  Profiles: %d\n", len(cfg.Profiles))
	fmt.Printf("  Permissions: %d\n", len(cfg.Permissions))
	fmt.Printf("  Sharing rules: %d\n", len(cfg.SharingRules))
	fmt.Printf("  Record shares: %d\n", len(cfg.RecordShares))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Tenants:         %d\n", len(cfg.Tenants))
	fmt.Printf("  Modules:         %d\n", len(cfg.Modules))
	fmt.Printf("  Roles:           %d\n", len(cfg.Roles))
	fmt.Printf("  Profiles:        %d\n", len(cfg.Profiles))
	fmt.Printf("  Permissions:     %d\n", len(cfg.Permissions))
	fmt.Printf("  Profile effects: %d\n", len(cfg.ProfileEffects))
	fmt.Printf("  Groups:          %d\n", len(cfg.Groups))
	fmt.Printf("  User roles:      %d\n", len(cfg.UserRoles))
	fmt.Printf("  User groups:     %d\n", len(cfg.UserGroups))
	fmt.Printf("  Sharing rules:   %d\n", len(cfg.SharingRules))
	fmt.Printf("  Record shares:   %d\n", len(cfg.RecordShares))
	fmt.Println()

	if len(cfg.ProfileEffects) > 0 {
		allowCount := 0
		denyCount := 0
		for _, pe := range cfg.ProfileEffects {
			if pe.Effect == permit.EffectAllow {
				allowCount++
			} else {
				denyCount++
			}
		}
		fmt.Println("Effect Details:")
		fmt.Printf("  Allow effects: %d\n", allowCount)
		fmt.Printf("  Deny effects:  %d\n", denyCount)
		fmt.Println()
	}

	if len(cfg.Roles) > 0 {
		roots := 0
		for _, r := range cfg.Roles {
			if r.ParentID == "" {
				roots++
			}
		}
		fmt.Println("Role Hierarchy:")
		fmt.Printf("  Root roles:  %d\n", roots)
		fmt.Printf("  Child roles: %d\n", len(cfg.Roles)-roots)
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Decision cache TTL:     %dms\n", cfg.Engine.DecisionCacheTTL)
	fmt.Printf("  Ristretto num counters: %d\n", cfg.Engine.RistrettoNumCounters)
	fmt.Printf("  Ristretto max cost:     %d\n", cfg.Engine.RistrettoMaxCost)
	fmt.Printf("  Ristretto buffer items: %d\n", cfg.Engine.RistrettoBufferItems)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config apply <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	engine := permit.NewEngine(
		permit.NewMemoryRoleStore(),
		permit.NewMemoryProfileStore(),
		permit.NewMemoryGroupStore(),
		permit.NewMemorySharingStore(),
		permit.NewMemoryModuleStore(),
		permit.NewMemoryAuditLog(),
	)
	defer engine.Close()

	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Roles loaded: %d\n", len(cfg.Roles))
	fmt.Printf("  Profiles loaded: %d\n", len(cfg.Profiles))
	fmt.Printf("  Sharing rules loaded: %d\n", len(cfg.SharingRules))
}

func loadConfig(filename string) (*permit.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	loader := permit.NewConfigLoader()

	switch ext {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func saveConfig(cfg *permit.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
