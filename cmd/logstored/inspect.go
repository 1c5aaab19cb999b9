package main

import (
	"encoding/json"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/slivotov/GDLogTool/logstore"
	mbp "github.com/slivotov/GDLogTool/mainboilerplate"
	"github.com/slivotov/GDLogTool/mirror"
)

type cmdInspect struct {
	Depth  int    `long:"depth" default:"-1" description:"Directory levels to list beneath the path. -1 lists all"`
	Path   string `long:"path" description:"Store path to inspect, as slash-separated segments"`
	Format string `long:"format" short:"o" choice:"table" choice:"yaml" choice:"json" default:"table" description:"Output format"`
}

// inspection is a point-in-time summary of a store.
type inspection struct {
	Directories []dirSummary `yaml:"directories" json:"directories"`
	Size        int64        `yaml:"size" json:"size"`
	MaxSize     int64        `yaml:"max_size" json:"max_size"`
	Days        []string     `yaml:"days" json:"days"`
}

type dirSummary struct {
	Path       string `yaml:"path" json:"path"`
	Files      int    `yaml:"files" json:"files"`
	TotalFiles int    `yaml:"total_files" json:"total_files"`
}

func (cmd *cmdInspect) Execute([]string) error {
	mbp.InitLog(Config.Log)
	// Opening the store logs at Info, which would interleave with the output.
	if log.GetLevel() > log.WarnLevel {
		log.SetLevel(log.WarnLevel)
	}

	var store, err = Config.Store.open()
	mbp.Must(err, "failed to open log store", "root", Config.Store.Root)

	var segments = strings.Split(strings.Trim(cmd.Path, "/"), "/")
	tree, err := store.Tree(-1, segments...)
	mbp.Must(err, "failed to list store path", "path", cmd.Path)

	var in = inspect(store, path.Join("/", cmd.Path), tree, cmd.Depth)

	switch cmd.Format {
	case "table":
		writeTable(os.Stdout, in)
	case "yaml":
		var b, err = yaml.Marshal(in)
		mbp.Must(err, "failed to encode YAML")
		_, _ = os.Stdout.Write(b)
	case "json":
		var enc = json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		mbp.Must(enc.Encode(in), "failed to encode JSON")
	}
	return nil
}

// inspect summarizes each directory of |node| to |depth| levels, with the
// number of log files held directly and beneath it.
func inspect(store *logstore.Store, name string, node *mirror.Node, depth int) inspection {
	var out = inspection{
		Size:    store.Size(),
		MaxSize: store.MaxSize(),
		Days:    []string{},
	}
	for _, day := range store.Dates() {
		out.Days = append(out.Days, day.Format("2006-01-02"))
	}

	var visit func(name string, node *mirror.Node, depth int)
	visit = func(name string, node *mirror.Node, depth int) {
		var direct, total = countLeaves(node)
		out.Directories = append(out.Directories, dirSummary{Path: name, Files: direct, TotalFiles: total})

		if depth == 0 {
			return
		}
		for _, child := range node.Names() {
			if n := node.Children[child]; !n.IsLeaf() {
				visit(path.Join(name, child), n, depth-1)
			}
		}
	}
	visit(name, node, depth)

	return out
}

// countLeaves returns the number of Leaf children of |node|, and the number
// of Leaves beneath it.
func countLeaves(node *mirror.Node) (direct, total int) {
	for _, child := range node.Children {
		if child.IsLeaf() {
			direct++
			total++
		} else {
			var _, t = countLeaves(child)
			total += t
		}
	}
	return
}

func writeTable(out io.Writer, in inspection) {
	var table = tablewriter.NewWriter(out)
	table.SetHeader([]string{"Directory", "Files", "Total Files"})
	for _, d := range in.Directories {
		table.Append([]string{d.Path, strconv.Itoa(d.Files), strconv.Itoa(d.TotalFiles)})
	}
	table.Render()

	table = tablewriter.NewWriter(out)
	table.SetHeader([]string{"Property", "Value"})

	var maxSize = "unbounded"
	if in.MaxSize > 0 {
		maxSize = humanize.IBytes(uint64(in.MaxSize))
	}
	table.Append([]string{"Size", humanize.IBytes(uint64(in.Size))})
	table.Append([]string{"Max Size", maxSize})
	table.Append([]string{"Indexed Days", strconv.Itoa(len(in.Days))})

	if len(in.Days) != 0 {
		table.Append([]string{"Oldest Day", in.Days[0]})
		table.Append([]string{"Newest Day", in.Days[len(in.Days)-1]})
	}
	table.Render()
}
