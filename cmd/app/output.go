package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/VitorLohan2/sistema-visitante-sub004/internal/domain"
)

func printJSON(v any) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatMaybeUint(v *uint) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatUint(uint64(*v), 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatMaybeTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func formatMeters(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "m"
}

func printSession(item domain.PatrolSession) {
	printKV([][2]string{
		{"id", uintToString(item.ID)},
		{"guard_id", item.GuardID},
		{"status", string(item.Status)},
		{"started_at", formatTime(item.StartedAt)},
		{"ended_at", formatMaybeTime(item.EndedAt)},
		{"checkpoints", strconv.Itoa(item.CheckpointCount)},
		{"distance", formatMeters(item.TotalDistance)},
		{"notes", item.Notes},
	})
}

func printSessions(items []domain.PatrolSession) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			uintToString(item.ID),
			item.GuardID,
			string(item.Status),
			formatTime(item.StartedAt),
			formatMaybeTime(item.EndedAt),
			strconv.Itoa(item.CheckpointCount),
			formatMeters(item.TotalDistance),
		})
	}
	printTable([]string{"ID", "GUARD", "STATUS", "STARTED_AT", "ENDED_AT", "CHECKPOINTS", "DISTANCE"}, rows)
}

func printVisits(items []domain.CheckpointVisit) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		within := "-"
		if item.WithinRadius != nil {
			within = strconv.FormatBool(*item.WithinRadius)
		}
		distance := "-"
		if item.DistanceToPoint != nil {
			distance = formatMeters(*item.DistanceToPoint)
		}
		rows = append(rows, []string{
			strconv.Itoa(item.SequenceNumber),
			formatMaybeUint(item.ControlPointID),
			distance,
			within,
			item.ElapsedSincePrev.Truncate(time.Second).String(),
			formatTime(item.RecordedAt),
			item.Description,
		})
	}
	printTable([]string{"SEQ", "POINT", "DISTANCE", "WITHIN", "ELAPSED", "AT", "DESCRIPTION"}, rows)
}

func printSamples(items []domain.PositionSample) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			uintToString(item.ID),
			formatCoord(item.Latitude),
			formatCoord(item.Longitude),
			formatTime(item.RecordedAt),
		})
	}
	printTable([]string{"ID", "LATITUDE", "LONGITUDE", "RECORDED_AT"}, rows)
}

func printSessionDetail(item domain.SessionDetail) {
	printSession(item.Session)
	fmt.Println()
	printVisits(item.Checkpoints)
	fmt.Println()
	printSamples(item.Trajectory)
}

func printControlPoints(items []domain.ControlPoint) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			uintToString(item.ID),
			item.Name,
			formatCoord(item.Latitude),
			formatCoord(item.Longitude),
			formatMeters(item.RadiusMeters),
			strconv.FormatBool(item.Mandatory),
			strconv.FormatBool(item.Active),
		})
	}
	printTable([]string{"ID", "NAME", "LATITUDE", "LONGITUDE", "RADIUS", "MANDATORY", "ACTIVE"}, rows)
}

func printAuditEntries(items []domain.AuditEntry) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			uintToString(item.ID),
			item.GuardID,
			formatMaybeUint(item.SessionID),
			string(item.EventType),
			formatTime(item.RecordedAt),
		})
	}
	printTable([]string{"ID", "GUARD", "SESSION", "EVENT", "AT"}, rows)
}

func printProximity(item domain.ProximityCheck) {
	printKV([][2]string{
		{"valid", strconv.FormatBool(item.Valid)},
		{"distance", formatMeters(item.DistanceMeters)},
		{"radius", formatMeters(item.RadiusMeters)},
	})
}
