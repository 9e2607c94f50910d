package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"transcode-fleet/internal/models"
)

func printWorkers(w io.Writer, list []models.WorkerStatus) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no live workers")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tHOST\tPID\tSTATE\tJOB\tOK\tFAILED\tSEEN")
	for _, st := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\t%d\t%s ago\n",
			st.WorkerID, st.Hostname, st.PID, st.State, st.Job, st.Succeeded, st.Failed,
			time.Since(st.UpdatedAt).Round(time.Second))
	}
	return tw.Flush()
}
