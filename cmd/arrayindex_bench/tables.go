// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/arrayindex/backends/refdevice"
	"github.com/gomlx/arrayindex/pkg/core/arrayindex"
	"k8s.io/klog/v2"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == lgtable.HeaderRow {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = evenRowStyle
			} else {
				s = oddRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func reportResults(results []result) {
	fmt.Println(titleStyle.Render("Dispatches"))
	table := newTable().Headers("Device", "Signature", "Dispatches", "Work-items", "Time", "Throughput")
	for _, r := range results {
		var throughput string
		if seconds := r.elapsed.Seconds(); seconds > 0 {
			throughput = humanize.SIWithDigits(float64(r.workItems)/seconds, 2, "items/s")
		}
		table.Row(r.device.String(), r.sig.String(), humanize.Comma(int64(r.dispatches)),
			humanize.Comma(r.workItems), r.elapsed.String(), throughput)
	}
	fmt.Println(table.Render())
}

func reportCache(cache *arrayindex.KernelCache) {
	fmt.Println(titleStyle.Render("Compiled kernels"))
	table := newTable().Headers("Device", "Signature", "Options", "Compile time", "Status")
	for _, e := range cache.Entries() {
		status := "ok"
		if e.Err != nil {
			status = e.Err.Error()
		}
		table.Row(e.Device.String(), e.Signature.String(), e.Options, e.CompileTime.String(), status)
	}
	fmt.Println(table.Render())
	fmt.Printf("%s compilations\n", humanize.Comma(cache.NumCompilations()))
}

func reportDevices(backend *refdevice.Backend) {
	fmt.Println(titleStyle.Render("Devices"))
	table := newTable().Headers("Device", "Launches", "Work-items")
	for device := range backend.NumDevices() {
		launches, workItems, err := backend.Stats(device)
		if err != nil {
			klog.Warningf("Failed to read the statistics of %s: %v", device, err)
			continue
		}
		table.Row(strconv.Itoa(int(device)), humanize.Comma(launches), humanize.Comma(workItems))
	}
	fmt.Println(table.Render())
}
