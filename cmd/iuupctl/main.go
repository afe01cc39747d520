package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/iuupgate/internal/capture"
	"example.com/iuupgate/internal/common"
	"example.com/iuupgate/internal/dict"
	"example.com/iuupgate/internal/findings"
	"example.com/iuupgate/internal/iuup"
	"example.com/iuupgate/internal/manifest"
	"example.com/iuupgate/internal/report"
	"example.com/iuupgate/internal/tree"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "decode":
		decodeCmd(os.Args[2:])
	case "batch":
		batchCmd(os.Args[2:])
	case "scan":
		scanCmd(os.Args[2:])
	case "frame":
		frameCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	case "verify":
		verifyCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`iuupctl %s (built %s) <command> [options]

Commands:
  decode  --in <capture.pcap> --out <findings.jsonl> --report <report.json> [--pdf <report.pdf>] [--manifest <manifest.json>] [--rtp] [--heuristic] [--pseudo-header] [--ports <list>] [--dict <amr|file>] [--tree]
  batch   --in <dir> --out-dir <dir> [decode options]
  scan    --in <file> [--hex] [--pseudo-header] [--dict <amr|file>]
  frame   [--pseudo-header] [--dict <amr|file>] <hex>
  report  --report <report.json> --pdf <report.pdf>
  verify  --manifest <manifest.json>
`, version, buildDate)
}

// decodeFlags are the options shared by decode and batch.
type decodeFlags struct {
	rtp          *bool
	heuristic    *bool
	pseudoHeader *bool
	noSubflows   *bool
	ports        *string
	dictSpec     *string
}

func addDecodeFlags(fs *flag.FlagSet) decodeFlags {
	return decodeFlags{
		rtp:          fs.Bool("rtp", false, "strip an RTP header from every datagram"),
		heuristic:    fs.Bool("heuristic", false, "scan each datagram for the first plausible frame"),
		pseudoHeader: fs.Bool("pseudo-header", false, "frames carry a 2-octet direction/circuit pseudoheader"),
		noSubflows:   fs.Bool("no-subflows", false, "do not split data payloads into subflows"),
		ports:        fs.String("ports", "", "comma separated UDP ports to decode (default all)"),
		dictSpec:     fs.String("dict", "", "subflow names: \"amr\" or a YAML/JSON dictionary file"),
	}
}

func (f decodeFlags) decoderOptions() (iuup.Options, error) {
	opts := iuup.Options{DecodeSubflows: !*f.noSubflows, PseudoHeader: *f.pseudoHeader}
	store, err := dict.Resolve(*f.dictSpec)
	if err != nil {
		return opts, err
	}
	if store != nil {
		opts.Names = store
	}
	return opts, nil
}

func (f decodeFlags) captureOptions() (capture.Options, error) {
	ports, err := common.ParsePorts(*f.ports)
	if err != nil {
		return capture.Options{}, err
	}
	return capture.Options{Ports: ports, RTP: *f.rtp, Heuristic: *f.heuristic}, nil
}

// decodeCapture runs one capture through a fresh session and writes the
// findings NDJSON and the report JSON.
func decodeCapture(in, outFindings, outReport string, decOpts iuup.Options, capOpts capture.Options, metrics *common.Metrics, treeOut io.Writer) (findings.Report, error) {
	sha, size, err := common.Sha256OfFile(in)
	if err != nil {
		return findings.Report{}, err
	}
	if treeOut != nil {
		capOpts.Tree = true
	}
	rd, err := capture.NewReader(in, iuup.NewDecoder(decOpts), capOpts)
	if err != nil {
		return findings.Report{}, err
	}
	defer rd.Close()
	rd.SetMetrics(metrics)

	col := findings.NewCollector(filepath.Base(in))
	for {
		fr, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return findings.Report{}, err
		}
		col.Record(findings.Frame{
			Index:        fr.Index,
			Timestamp:    fr.Timestamp,
			Conversation: fr.Conversation.String(),
			Heuristic:    fr.Heuristic,
			Result:       fr.Result,
			Err:          fr.Err,
		})
		if treeOut != nil {
			fmt.Fprintf(treeOut, "#%d %s %s\n", fr.Index, fr.Timestamp.UTC().Format(time.RFC3339Nano), fr.Conversation)
			if fr.Tree != nil {
				tree.Fprint(treeOut, fr.Tree)
			}
			if fr.Err != nil {
				fmt.Fprintf(treeOut, "  error: %v\n", fr.Err)
			}
		}
	}
	if err := col.WriteNDJSON(outFindings); err != nil {
		return findings.Report{}, fmt.Errorf("write findings: %w", err)
	}
	rep := col.MakeReport(findings.CaptureInfo{File: filepath.Base(in), SHA256: sha, Size: size}, rd.Circuits())
	if err := report.SaveJSON(rep, outReport); err != nil {
		return findings.Report{}, fmt.Errorf("write report: %w", err)
	}
	return rep, nil
}

func decodeCmd(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	in := fs.String("in", "", "input pcap or pcapng capture")
	outFindings := fs.String("out", "findings.jsonl", "findings output")
	outReport := fs.String("report", "report.json", "report json")
	pdfPath := fs.String("pdf", "", "optional report PDF")
	manifestPath := fs.String("manifest", "", "optional manifest of the capture and every output")
	showTree := fs.Bool("tree", false, "print the decoded field tree of every frame")
	metricsFlag := fs.Bool("metrics", false, "print decode throughput metrics")
	progressFlag := fs.Bool("progress", false, "display decode progress updates")
	df := addDecodeFlags(fs)
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	decOpts, err := df.decoderOptions()
	if err != nil {
		fmt.Println("dictionary:", err)
		os.Exit(1)
	}
	capOpts, err := df.captureOptions()
	if err != nil {
		fmt.Println("ports:", err)
		os.Exit(1)
	}

	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
		metrics.Start()
	}
	var stopProgress func()
	if metrics != nil && *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	var treeOut io.Writer
	if *showTree {
		treeOut = os.Stdout
	}
	rep, err := decodeCapture(*in, *outFindings, *outReport, decOpts, capOpts, metrics, treeOut)
	if stopProgress != nil {
		stopProgress()
	}
	if metrics != nil {
		metrics.Stop()
	}
	if err != nil {
		fmt.Println("decode:", err)
		os.Exit(1)
	}
	if *pdfPath != "" {
		if err := report.SavePDF(rep, *pdfPath); err != nil {
			fmt.Println("write pdf:", err)
			os.Exit(1)
		}
	}
	if *manifestPath != "" {
		outputs := []string{*in, *outFindings, *outReport}
		if *pdfPath != "" {
			outputs = append(outputs, *pdfPath)
		}
		if err := writeManifest(*manifestPath, outputs); err != nil {
			fmt.Println("write manifest:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("PASS=%v, frames=%d, errors=%d, warnings=%d, findings=%d, circuits=%d\n",
		rep.Summary.Pass, rep.Stats.Frames, rep.Summary.Errors, rep.Summary.Warnings, rep.Summary.Total, len(rep.Circuits))
	if metrics != nil && *metricsFlag {
		snap := metrics.Snapshot()
		fmt.Printf("Metrics: duration=%s frames=%d heuristic_misses=%d decode_errors=%d processed=%s rate=%.0f frames/s\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Frames,
			snap.HeuristicMisses,
			snap.DecodeErrors,
			common.FormatBytes(snap.Bytes),
			snap.FramesPerSecond(),
		)
	}
}

func batchCmd(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	inDir := fs.String("in", ".", "input directory")
	outDir := fs.String("out-dir", "out", "results directory")
	df := addDecodeFlags(fs)
	fs.Parse(args)

	decOpts, err := df.decoderOptions()
	if err != nil {
		fmt.Println("dictionary:", err)
		os.Exit(1)
	}
	capOpts, err := df.captureOptions()
	if err != nil {
		fmt.Println("ports:", err)
		os.Exit(1)
	}
	var inputs []string
	err = filepath.WalkDir(*inDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pcap", ".pcapng", ".cap":
			if !d.IsDir() {
				inputs = append(inputs, path)
			}
		}
		return nil
	})
	if err != nil {
		fmt.Println("scan input dir:", err)
		os.Exit(1)
	}
	failed := 0
	for _, in := range inputs {
		name := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		dir := filepath.Join(*outDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Println("output dir:", err)
			os.Exit(1)
		}
		outFindings := filepath.Join(dir, "findings.jsonl")
		outReport := filepath.Join(dir, "report.json")
		rep, err := decodeCapture(in, outFindings, outReport, decOpts, capOpts, nil, nil)
		if err != nil {
			fmt.Printf("%s: %v\n", in, err)
			failed++
			continue
		}
		if err := writeManifest(filepath.Join(dir, "manifest.json"), []string{in, outFindings, outReport}); err != nil {
			fmt.Printf("%s: manifest: %v\n", in, err)
			failed++
			continue
		}
		fmt.Printf("%s: PASS=%v frames=%d errors=%d warnings=%d\n", in, rep.Summary.Pass, rep.Stats.Frames, rep.Summary.Errors, rep.Summary.Warnings)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// scanCmd decodes frames that are not wrapped in a capture: either one hex
// frame per line or the whole file as a single buffer. Every frame goes
// through the heuristic locator.
func scanCmd(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	in := fs.String("in", "", "input file")
	hexLines := fs.Bool("hex", false, "input holds one hex frame per line")
	pseudoHeader := fs.Bool("pseudo-header", false, "frames carry a 2-octet direction/circuit pseudoheader")
	dictSpec := fs.String("dict", "", "subflow names: \"amr\" or a YAML/JSON dictionary file")
	fs.Parse(args)
	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	opts, err := frameOptions(*pseudoHeader, *dictSpec)
	if err != nil {
		fmt.Println("dictionary:", err)
		os.Exit(1)
	}
	frames, err := readFrames(*in, *hexLines)
	if err != nil {
		fmt.Println("read:", err)
		os.Exit(1)
	}
	dec := iuup.NewDecoder(opts)
	defer dec.Reset()
	for i, buf := range frames {
		root := tree.New()
		res, err := dec.DecodeHeuristic(buf, iuup.Conversation{}, root)
		fmt.Printf("#%d %s\n", i+1, emptyFallback(res.Summary, "no frame"))
		tree.Fprint(os.Stdout, root)
		if err != nil {
			fmt.Printf("  error: %v\n", err)
		}
	}
}

func readFrames(path string, hexLines bool) ([][]byte, error) {
	if !hexLines {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return [][]byte{b}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out [][]byte
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		b, err := common.ParseHex(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, b)
	}
	return out, sc.Err()
}

func frameCmd(args []string) {
	fs := flag.NewFlagSet("frame", flag.ExitOnError)
	pseudoHeader := fs.Bool("pseudo-header", false, "frame carries a 2-octet direction/circuit pseudoheader")
	dictSpec := fs.String("dict", "", "subflow names: \"amr\" or a YAML/JSON dictionary file")
	fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Println("required: <hex>")
		os.Exit(1)
	}
	buf, err := common.ParseHex(strings.Join(fs.Args(), ""))
	if err != nil {
		fmt.Println("hex:", err)
		os.Exit(1)
	}
	opts, err := frameOptions(*pseudoHeader, *dictSpec)
	if err != nil {
		fmt.Println("dictionary:", err)
		os.Exit(1)
	}
	if err := printFrame(os.Stdout, iuup.NewDecoder(opts), buf); err != nil {
		os.Exit(1)
	}
}

func frameOptions(pseudoHeader bool, dictSpec string) (iuup.Options, error) {
	opts := iuup.Options{DecodeSubflows: true, PseudoHeader: pseudoHeader}
	store, err := dict.Resolve(dictSpec)
	if err != nil {
		return opts, err
	}
	if store != nil {
		opts.Names = store
	}
	return opts, nil
}

func printFrame(w io.Writer, dec *iuup.Decoder, buf []byte) error {
	root := tree.New()
	res, err := dec.Decode(buf, iuup.Conversation{}, root)
	fmt.Fprintln(w, emptyFallback(res.Summary, "-"))
	tree.Fprint(w, root)
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return err
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	repPath := fs.String("report", "", "report.json")
	pdfPath := fs.String("pdf", "", "output report PDF")
	fs.Parse(args)
	if *repPath == "" || *pdfPath == "" {
		fmt.Println("required: --report and --pdf")
		os.Exit(1)
	}
	rep, err := report.LoadJSON(*repPath)
	if err != nil {
		fmt.Println("load report:", err)
		os.Exit(1)
	}
	if err := report.SavePDF(rep, *pdfPath); err != nil {
		fmt.Println("write pdf:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote PDF:", *pdfPath)
}

func writeManifest(out string, paths []string) error {
	m, err := manifest.Build("iuupctl "+version, paths)
	if err != nil {
		return err
	}
	return manifest.Save(m, out)
}

func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	path := fs.String("manifest", "manifest.json", "manifest to check")
	fs.Parse(args)
	m, err := manifest.Load(*path)
	if err != nil {
		fmt.Println("load manifest:", err)
		os.Exit(1)
	}
	changed, err := manifest.Verify(m)
	if err != nil {
		fmt.Println("verify:", err)
		os.Exit(1)
	}
	for _, it := range changed {
		fmt.Println("MODIFIED:", it.Path)
	}
	if len(changed) > 0 {
		os.Exit(1)
	}
	fmt.Printf("OK: %d files match\n", len(m.Items))
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
