package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/source"
)

var (
	importURL  string
	importFile string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Stage the quarterly NHSBT list file",
	Long:  "Downloads the NHSBT organ donor list from the registry FTP drop (or reads a local copy) and loads it into the radar staging table for the batch loader.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		url := importURL
		if url == "" {
			url = cfg.NHSBT.FTPURL
		}
		if importFile == "" && url == "" {
			return eris.New("no list source: pass --file or --url, or set nhsbt.ftp_url")
		}

		pool, err := radarPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		imp := &source.NHSBTImporter{
			Pool:           pool,
			Table:          cfg.NHSBT.StagingTable,
			Timeout:        time.Duration(cfg.NHSBT.TimeoutSecs) * time.Second,
			DownloadDir:    cfg.NHSBT.DownloadDir,
			KeepDownloaded: cfg.NHSBT.KeepDownloaded,
			Log:            zap.L(),
		}

		var staged int64
		if importFile != "" {
			staged, err = imp.ImportFile(ctx, importFile)
		} else {
			staged, err = imp.ImportURL(ctx, url)
		}
		if err != nil {
			return eris.Wrap(err, "import nhsbt list")
		}

		zap.L().Info("nhsbt list staged",
			zap.Int64("rows", staged),
			zap.String("table", cfg.NHSBT.StagingTable),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importURL, "url", "", "ftp url of the list file (default from config)")
	importCmd.Flags().StringVar(&importFile, "file", "", "local copy of the list file")
	rootCmd.AddCommand(importCmd)
}
