package commands

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/dustin/go-humanize"
)

func printJSON(w io.Writer, v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func bytesOrDash(n *int64) string {
	if n == nil {
		return "-"
	}
	return humanize.IBytes(uint64(max(*n, 0)))
}

func percentOf(used, ceiling *int64) string {
	if used == nil || ceiling == nil || *ceiling <= 0 {
		return "-"
	}
	return strconv.FormatFloat(float64(*used)*100/float64(*ceiling), 'f', 1, 64) + "%"
}
