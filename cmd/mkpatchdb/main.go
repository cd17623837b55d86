package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"gitlab.com/reiloader/codepatch/patchdb"
	"gopkg.in/yaml.v3"
)

const (
	outputArg  = "o"
	dumpArg    = "dump"
	listArg    = "l"
	verboseArg = "v"
	helpArg    = "h"

	appName = "mkpatchdb"
	usage   = appName + `
DESCRIPTION
  Compiles a YAML patch source into a patch store, or turns an existing
  patch store back into YAML. Input is read from the file named by the
  first argument, or from stdin if no file is named.

USAGE
  ` + appName + ` [options] [input-file]

EXAMPLES
  Compile a patch source:
    $ ` + appName + ` -` + outputArg + ` patches.dat patches.yaml

  Convert a patch store to YAML:
    $ ` + appName + ` -` + dumpArg + ` patches.dat

  List the records in a patch store:
    $ ` + appName + ` -` + dumpArg + ` -` + listArg + ` < patches.dat

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
	outputPath := flag.String(
		outputArg,
		"",
		"The file to write to (default: stdout)")

	dump := flag.Bool(
		dumpArg,
		false,
		"Read a patch store and write it as a YAML patch source")

	list := flag.Bool(
		listArg,
		false,
		"Write one line per record rather than YAML when used with -"+dumpArg)

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

	var input io.Reader
	switch flag.NArg() {
	case 0:
		input = os.Stdin
	case 1:
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			return err
		}
		defer f.Close()

		input = f
	default:
		return fmt.Errorf("please specify at most one input file")
	}

	output := bufio.NewWriter(os.Stdout)
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			return err
		}
		defer f.Close()

		output = bufio.NewWriter(f)
	}

	var err error
	if *dump {
		err = dumpStore(input, output, *list)
	} else {
		err = compileSource(input, output, *verbose)
	}
	if err != nil {
		return err
	}

	return output.Flush()
}

func compileSource(r io.Reader, w io.Writer, verbose bool) error {
	source, err := patchdb.ParseSource(r)
	if err != nil {
		return err
	}

	records, err := source.Records()
	if err != nil {
		return err
	}

	writer := patchdb.NewWriter(w)

	for _, record := range records {
		if verbose {
			log.Printf("record %d: %s", writer.NumWritten(), record)
		}

		err = writer.Write(record)
		if err != nil {
			return err
		}
	}

	log.Printf("wrote %d of %d patches", writer.NumWritten(), len(source.Patches))

	return nil
}

func dumpStore(r io.Reader, w io.Writer, list bool) error {
	records, err := patchdb.ReadAll(r)
	if err != nil {
		// Show whatever could be decoded before failing.
		log.Printf("warning: %s", err)
	}

	if list {
		for _, record := range records {
			_, err := fmt.Fprintln(w, record)
			if err != nil {
				return err
			}
		}

		return nil
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	err = encoder.Encode(patchdb.FromRecords(records))
	if err != nil {
		return fmt.Errorf("failed to encode records as yaml - %w", err)
	}

	return encoder.Close()
}
