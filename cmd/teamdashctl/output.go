package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"example.com/teamdash/internal/domain"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printImportResult(w io.Writer, r *domain.ImportResult) {
	verb := "imported"
	if r.Replay {
		verb = "replayed"
	} else if r.Import.RestoredFrom != nil {
		verb = "restored"
	}
	c := r.Import.ActivityCount
	_, _ = fmt.Fprintf(w, "%s %s for %s: %d emails, %d calls, %d meetings, %d proposals, %d prospects, %d won (%.2f)\n",
		verb, r.Import.ID, r.Member.Name, c.Emails, c.Calls, c.Meetings, c.Proposals,
		r.Import.ProspectCount, r.Import.WonCount, r.Import.WonRevenue)
	if r.Dropped > 0 {
		_, _ = fmt.Fprintf(w, "  %d activities with unknown type dropped\n", r.Dropped)
	}
}

func printMembers(w io.Writer, members []domain.TeamMember) {
	if len(members) == 0 {
		_, _ = fmt.Fprintln(w, "no members")
		return
	}
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tCURRENT IMPORT\tCREATED")
	for _, m := range members {
		current := "-"
		if m.CurrentImportID != nil {
			current = *m.CurrentImportID
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Name, current, m.CreatedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func printImports(w io.Writer, imports []domain.Import) {
	if len(imports) == 0 {
		_, _ = fmt.Fprintln(w, "no imports")
		return
	}
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "ID\tMEMBER\tCURRENT\tACTIVITIES\tPROSPECTS\tWON\tREVENUE\tSOURCE\tIMPORTED")
	for _, imp := range imports {
		current := ""
		if imp.IsCurrent {
			current = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.2f\t%s\t%s\n",
			imp.ID, imp.MemberName, current, imp.ActivityCount.Total(), imp.ProspectCount,
			imp.WonCount, imp.WonRevenue, imp.Source, imp.ImportedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func printStats(w io.Writer, s domain.TeamStats) {
	tw := newTable(w)
	_, _ = fmt.Fprintf(tw, "members\t%d\n", s.Members)
	for _, t := range domain.ActivityTypes {
		_, _ = fmt.Fprintf(tw, "%s\t%d\n", t, s.ActivityCount.Get(t))
	}
	_, _ = fmt.Fprintf(tw, "prospects\t%d\n", s.ProspectCount)
	_, _ = fmt.Fprintf(tw, "won\t%d\n", s.WonCount)
	_, _ = fmt.Fprintf(tw, "won revenue\t%.2f\n", s.WonRevenue)
	_ = tw.Flush()
}

func printLeaderboard(w io.Writer, entries []domain.LeaderboardEntry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "no current imports")
		return
	}
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "#\tMEMBER\tEMAILS\tCALLS\tMEETINGS\tPROPOSALS\tTOTAL")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\n",
			e.Rank, e.MemberName, e.Counts.Emails, e.Counts.Calls, e.Counts.Meetings, e.Counts.Proposals, e.Total)
	}
	_ = tw.Flush()
}

func printPipeline(w io.Writer, stages []domain.StageSummary) {
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "STAGE\tCOUNT\tVALUE")
	for _, s := range stages {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%.2f\n", s.Stage, s.Count, s.Value)
	}
	_ = tw.Flush()
}

func printContacts(w io.Writer, contacts []domain.Contact) {
	if len(contacts) == 0 {
		_, _ = fmt.Fprintln(w, "no contacts")
		return
	}
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "COMPANY\tCONTACT\tEMAIL\tPHONE\tSTAGE\tVALUE\tDUPLICATE")
	for _, c := range contacts {
		dup := ""
		if c.Duplicate {
			dup = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			c.Company, c.Contact, c.Email, c.Phone, c.Stage, c.DealValue, dup)
	}
	_ = tw.Flush()
}

func printWeekly(w io.Writer, weeks []domain.WeekTotal) {
	if len(weeks) == 0 {
		_, _ = fmt.Fprintln(w, "no activities")
		return
	}
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "WEEK OF\tEMAILS\tCALLS\tMEETINGS\tPROPOSALS\tTOTAL")
	for _, wk := range weeks {
		c := wk.Counts
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n",
			wk.WeekOf.Format("2006-01-02"), c.Emails, c.Calls, c.Meetings, c.Proposals, c.Total())
	}
	_ = tw.Flush()
}

func printProgress(w io.Writer, p *domain.MemberProgress) {
	_, _ = fmt.Fprintf(w, "%s\n", p.Member.Name)
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "TYPE\tCOUNT\tTARGET\tPERCENT\tBAND")
	for _, t := range p.Targets {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f%%\t%s\n", t.Type, t.Count, t.Target, t.Percent, t.Band)
	}
	_ = tw.Flush()
}
