package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/identhost/drivesync/drive"
)

var (
	queryDrive    string
	queryTags     []string
	queryFileType []int
	queryGroup    string
	queryMax      int
	queryCursor   string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "List files on a drive",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newSession(true)
		if err != nil {
			return err
		}
		mount, err := mountFor(cfg, queryDrive)
		if err != nil {
			return err
		}

		params := drive.FileQueryParams{
			TargetDrive:         mount.TargetDrive(),
			TagsMatchAtLeastOne: queryTags,
			FileType:            queryFileType,
		}
		if queryGroup != "" {
			params.GroupID = []string{queryGroup}
		}

		resp, err := drive.QueryBatch(cmd.Context(), c, params, drive.ResultOptions{
			MaxRecords:  queryMax,
			CursorState: queryCursor,
		})
		if err != nil {
			return err
		}

		for _, header := range resp.SearchResults {
			updated := time.UnixMilli(header.FileMetadata.Updated).Format(time.RFC3339)
			fmt.Printf("%s\tupdated=%s encrypted=%v sender=%s\n",
				header.FileID, updated, header.FileMetadata.IsEncrypted, header.FileMetadata.SenderOdinID)
		}
		if resp.CursorState != "" {
			fmt.Printf("more results: --cursor %s\n", resp.CursorState)
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVarP(&queryDrive, "drive", "d", "", "drive mount name from config")
	queryCmd.Flags().StringSliceVar(&queryTags, "tag", nil, "match files carrying at least one tag")
	queryCmd.Flags().IntSliceVar(&queryFileType, "file-type", nil, "match files of these types")
	queryCmd.Flags().StringVar(&queryGroup, "group", "", "match files in this group")
	queryCmd.Flags().IntVar(&queryMax, "max", 100, "page size")
	queryCmd.Flags().StringVar(&queryCursor, "cursor", "", "cursor from a previous page")
	_ = queryCmd.MarkFlagRequired("drive")
	rootCmd.AddCommand(queryCmd)
}
