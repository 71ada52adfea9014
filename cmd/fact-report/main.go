package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/config"
	"bitbucket.org/mmdatafocus/venue_backend/models"
	"bitbucket.org/mmdatafocus/venue_backend/reports"
	"bitbucket.org/mmdatafocus/venue_backend/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	startFlag := flag.String("start", "", "Required: first business date, YYYY-MM-DD")
	endFlag := flag.String("end", "", "Last business date, YYYY-MM-DD (default yesterday)")
	venue := flag.String("venue", "", "Optional comma separated venue ids")
	out := flag.String("out", "fact-report.xlsx", "Output .xlsx path")
	upload := flag.Bool("upload", false, "Also upload the workbook to GCS_BUCKET")
	signFor := flag.Duration("sign", 0, "With -upload, print a signed download url valid for this long")
	flag.Parse()

	if strings.TrimSpace(*startFlag) == "" {
		fmt.Fprintln(os.Stderr, "-start is required")
		os.Exit(1)
	}
	start, err := utils.ParseDate(*startFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "-start:", err)
		os.Exit(1)
	}
	end, err := utils.ParseDateOr(*endFlag, utils.Yesterday(time.Now(), time.Local))
	if err != nil {
		fmt.Fprintln(os.Stderr, "-end:", err)
		os.Exit(1)
	}
	if end.Before(start) {
		fmt.Fprintln(os.Stderr, "-end is before -start")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	ctx := context.Background()

	var venueIds []string
	for _, id := range strings.Split(*venue, ",") {
		if id = strings.TrimSpace(id); id != "" {
			venueIds = append(venueIds, id)
		}
	}
	filter := models.FactFilter{VenueIds: venueIds, Start: start, End: end}

	buf, err := reports.WriteFactReport(ctx, db, filter)
	if err != nil {
		config.LogError(logger, "fact-report", "main", "build workbook", filter, err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
		config.LogError(logger, "fact-report", "main", "write file", *out, err)
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{"out": *out, "bytes": buf.Len()}).Info("fact report written")

	if !*upload {
		return
	}
	key := utils.ReportObjectKey(start, end, time.Now(), venueIds)
	url, err := utils.UploadReport(ctx, key, buf.Bytes(), reports.XlsxContentType)
	if err != nil {
		config.LogError(logger, "fact-report", "main", "upload", key, err)
		os.Exit(1)
	}
	fmt.Println(url)

	if *signFor > 0 {
		signed, err := utils.SignReportDownload(ctx, key, *signFor)
		if err != nil {
			config.LogError(logger, "fact-report", "main", "sign download", key, err)
			os.Exit(1)
		}
		fmt.Printf("%s (expires %s)\n", signed.DownloadURL, signed.ExpiresAt.UTC().Format(time.RFC3339))
	}
}
