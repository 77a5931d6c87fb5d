package cmd

import (
	"fmt"
	"math"
	"strconv"

	"github.com/andresmejia3/facesampler/internal/dataset"
	"github.com/spf13/cobra"
)

var (
	inspectX string
	inspectY string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the shape and label balance of saved X.npy / y.npy arrays",
	RunE: func(cmd *cobra.Command, args []string) error {
		xPath, yPath := Cfg.XPath(), Cfg.YPath()
		if cmd.Flags().Changed("x") {
			xPath = inspectX
		}
		if cmd.Flags().Changed("y") {
			yPath = inspectY
		}

		ds, err := dataset.Load(xPath, yPath)
		if err != nil {
			return err
		}
		fmt.Println(renderInspect(xPath, yPath, ds))
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectX, "x", "X.npy", "Sample array to read")
	inspectCmd.Flags().StringVar(&inspectY, "y", "y.npy", "Label array to read")
	rootCmd.AddCommand(inspectCmd)
}

type pixelStats struct {
	Min, Max, Mean float64
}

func statsOf(ds *dataset.Dataset) pixelStats {
	st := pixelStats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	var n int
	for _, s := range ds.X {
		for _, v := range s.Pix {
			f := float64(v)
			st.Min = math.Min(st.Min, f)
			st.Max = math.Max(st.Max, f)
			sum += f
			n++
		}
	}
	if n == 0 {
		return pixelStats{}
	}
	st.Mean = sum / float64(n)
	return st
}

func renderInspect(xPath, yPath string, ds *dataset.Dataset) string {
	n := ds.Len()
	nReal, nFake := ds.Counts()
	st := statsOf(ds)

	arrays := renderTable(
		[]string{"FILE", "DTYPE", "SHAPE"},
		[][]string{
			{xPath, "float32", fmt.Sprintf("(%d, %d, %d, %d)", n, ds.Height, ds.Width, dataset.Channels)},
			{yPath, "int64", fmt.Sprintf("(%d,)", n)},
		},
		nil,
	)

	share := func(k int) string {
		if n == 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f%%", 100*float64(k)/float64(n))
	}
	balance := renderTable(
		[]string{"LABEL", "CODE", "SAMPLES", "SHARE"},
		[][]string{
			{string(dataset.Real), strconv.FormatInt(dataset.Real.Code(), 10), strconv.Itoa(nReal), share(nReal)},
			{string(dataset.Fake), strconv.FormatInt(dataset.Fake.Code(), 10), strconv.Itoa(nFake), share(nFake)},
		},
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	)

	return fmt.Sprintf("%s\n%s\npixels: min %.4f  max %.4f  mean %.4f", arrays, balance, st.Min, st.Max, st.Mean)
}
