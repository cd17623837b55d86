package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"gitlab.com/reiloader/codepatch/asmkit"
	"gitlab.com/reiloader/codepatch/loader"
	"gitlab.com/reiloader/codepatch/patch"
	"gitlab.com/reiloader/codepatch/patchdb"
	"gitlab.com/reiloader/codepatch/rules"
)

const (
	rootDirArg   = "d"
	storePathArg = "p"
	programArg   = "id"
	versionArg   = "ver"
	textSizeArg  = "text"
	outputArg    = "o"
	rulesArg     = "rules"
	uncheckedArg = "unchecked"
	silentArg    = "silent"
	disasmArg    = "disasm"
	syntaxArg    = "s"
	verboseArg   = "v"
	helpArg      = "h"

	appName = "codepatch"
	usage   = appName + `
DESCRIPTION
  Patches a program's code image the same way it is patched when the
  program is loaded. Records for the program are applied from the patch
  store first, followed by the built-in rules for the program.

  The patch store is read from the directory specified by -` + rootDirArg + `
  (the root of the SD card). A missing store is not an error.

USAGE
  ` + appName + ` -` + programArg + ` program-id [options] code-file

EXAMPLES
  Patch a Home Menu dump and show the instructions that were written:
    $ ` + appName + ` -` + rootDirArg + ` /media/sd -` + programArg + ` 0x0004003000008f02 -` + versionArg + ` 9 \
        -` + textSizeArg + ` 0x1c4000 -` + disasmArg + ` code.bin

  Check a patch store against an image without the built-in rules:
    $ ` + appName + ` -` + programArg + ` 0x0004000000055d00 -` + outputArg + ` /dev/null -` + verboseArg + ` code.bin

OPTIONS
`
)

func main() {
	log.SetFlags(0)

	err := mainWithError()
	if err != nil {
		log.Fatalln("fatal:", err)
	}
}

func mainWithError() error {
	rootDir := flag.String(
		rootDirArg,
		".",
		"The directory that contains the patch store")

	storePath := flag.String(
		storePathArg,
		patchdb.DefaultPath,
		"The path of the patch store, relative to -"+rootDirArg)

	programStr := flag.String(
		programArg,
		"",
		"The program id (required)")

	version := flag.Uint(
		versionArg,
		0,
		"The program version")

	textSizeStr := flag.String(
		textSizeArg,
		"",
		"The size of the text section (default: the size of the code file)")

	outputPath := flag.String(
		outputArg,
		"",
		"The file to write the patched code to (default: code-file.patched)")

	rulesPath := flag.String(
		rulesArg,
		"",
		"Load the built-in rules from a YAML file rather than the default table")

	unchecked := flag.Bool(
		uncheckedArg,
		false,
		"Clip out-of-range writes rather than failing the patch")

	silent := flag.Bool(
		silentArg,
		false,
		"Skip rules that only change what the user sees")

	disasm := flag.Bool(
		disasmArg,
		false,
		"Disassemble the instructions at each patched location")

	syntax := flag.String(
		syntaxArg,
		string(asmkit.GNUSyntax),
		fmt.Sprintf("The assembly syntax used by -%s ('%s', '%s')",
			disasmArg, asmkit.GNUSyntax, asmkit.GoSyntax))

	verbose := flag.Bool(
		verboseArg,
		false,
		"Enable verbose logging")

	help := flag.Bool(
		helpArg,
		false,
		"Display this information")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(1)
	}

	if flag.NArg() != 1 {
		return fmt.Errorf("please specify a code file")
	}

	if *programStr == "" {
		return fmt.Errorf("please specify a program id using -%s", programArg)
	}

	programID, err := strconv.ParseUint(*programStr, 0, 64)
	if err != nil {
		return fmt.Errorf("failed to parse program id - %w", err)
	}

	if *version > 0xffff {
		return fmt.Errorf("program version %d is larger than 16 bits", *version)
	}

	codePath := flag.Arg(0)

	code, err := os.ReadFile(codePath)
	if err != nil {
		return err
	}

	textSize := uint64(len(code))
	if *textSizeStr != "" {
		textSize, err = strconv.ParseUint(*textSizeStr, 0, 32)
		if err != nil {
			return fmt.Errorf("failed to parse text section size - %w", err)
		}
	}

	config := loader.Config{
		Store:     os.DirFS(*rootDir),
		StorePath: *storePath,
		Unchecked: *unchecked,
		Silent:    *silent,
	}

	if *verbose {
		config.OptLogger = log.Default()
	}

	if *rulesPath != "" {
		config.Rules, err = readRules(*rulesPath)
		if err != nil {
			return err
		}
	}

	var sites []site

	if *disasm {
		config.OptOnWrite = func(w patch.Write) {
			sites = append(sites, site{
				at:  w.At,
				len: len(w.New),
			})
		}
	}

	l, err := loader.New(config)
	if err != nil {
		return err
	}

	program := loader.Program{
		ID:       programID,
		Version:  uint16(*version),
		TextSize: uint32(textSize),
	}

	report, err := l.PatchCode(program, code)
	if err != nil {
		return err
	}

	log.Printf("%s: %d store records matched, %d occurrences patched, %d rules applied, %d rules skipped",
		program, report.RecordsMatched, report.StoreApplied, len(report.RulesApplied), len(report.RulesSkipped))

	if report.StoreErr != nil {
		log.Printf("warning: %s", report.StoreErr)
	}

	if *disasm {
		err = printSites(os.Stdout, code, sites, asmkit.DisassemblySyntax(*syntax))
		if err != nil {
			return err
		}
	}

	if *outputPath == "" {
		*outputPath = codePath + ".patched"
	}

	err = os.WriteFile(*outputPath, code, 0o644)
	if err != nil {
		return err
	}

	return nil
}

func readRules(filePath string) (rules.Table, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return rules.Table{}, err
	}
	defer f.Close()

	table, err := rules.Parse(f)
	if err != nil {
		return rules.Table{}, fmt.Errorf("failed to parse rules file %q - %w", filePath, err)
	}

	return table, nil
}

type site struct {
	at  int
	len int
}

func printSites(w io.Writer, code []byte, sites []site, syntax asmkit.DisassemblySyntax) error {
	disassembler, err := asmkit.NewDisassembler(asmkit.DisassemblerConfig{
		Syntax: syntax,
	})
	if err != nil {
		return fmt.Errorf("failed to create disassembler - %w", err)
	}

	for _, s := range sites {
		fmt.Fprintf(w, "0x%08x: %d bytes\n", s.at, s.len)

		insts, err := disassembler.Range(code, s.at, s.at+s.len)
		for _, inst := range insts {
			fmt.Fprintf(w, "  0x%08x  % x  %s\n", inst.Addr, inst.Bin, inst.Dis)
		}

		if err != nil {
			fmt.Fprintf(w, "  (not code: %s)\n", err)
		}
	}

	return nil
}
