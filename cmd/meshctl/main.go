// meshctl is a read-only inspection tool for a meshhostd database.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
)

var (
	dbPath  string
	rootCmd = &cobra.Command{
		Use:   "meshctl",
		Short: "Mesh companion-host database inspector",
		Long:  "Command-line tool for inspecting a meshhostd contact/channel/message database.",
	}

	contactsCmd = &cobra.Command{
		Use:   "contacts",
		Short: "List known contacts",
		RunE:  listContacts,
	}

	channelsCmd = &cobra.Command{
		Use:   "channels",
		Short: "List configured channels",
		RunE:  listChannels,
	}

	messagesCmd = &cobra.Command{
		Use:   "messages [contact-id]",
		Short: "Show message history",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showMessages,
	}

	pendingCmd = &cobra.Command{
		Use:   "pending",
		Short: "Show in-flight pending acks",
		RunE:  showPending,
	}

	limit int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/meshhost/host.db", "Database file path")
	messagesCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")

	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(pendingCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*sql.DB, error) {
	return sql.Open("sqlite3", dbPath+"?mode=ro")
}

func listContacts(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT device_id, public_key, kind, name, last_advert_ts, last_modified
		FROM contacts ORDER BY last_modified DESC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tPUBLIC KEY\tKIND\tNAME\tLAST ADVERT\tLAST MODIFIED")
	fmt.Fprintln(w, "------\t----------\t----\t----\t-----------\t-------------")

	for rows.Next() {
		var deviceID, pubKey, name string
		var kind int
		var lastAdvertTs, lastModified int64

		if err := rows.Scan(&deviceID, &pubKey, &kind, &name, &lastAdvertTs, &lastModified); err != nil {
			return err
		}

		keyStr := pubKey
		if len(keyStr) > 16 {
			keyStr = keyStr[:16]
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			deviceID, keyStr, kind, name,
			time.Unix(lastAdvertTs, 0).Format("2006-01-02 15:04"),
			time.Unix(lastModified, 0).Format("2006-01-02 15:04"))
	}
	w.Flush()
	return nil
}

func listChannels(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT device_id, idx, name FROM channels ORDER BY device_id, idx`)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tINDEX\tNAME")
	fmt.Fprintln(w, "------\t-----\t----")

	for rows.Next() {
		var deviceID, name string
		var idx int
		if err := rows.Scan(&deviceID, &idx, &name); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", deviceID, idx, name)
	}
	w.Flush()
	return nil
}

func showMessages(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	var query string
	var queryArgs []interface{}
	if len(args) > 0 {
		query = `
			SELECT id, direction, contact_id, channel_index, text, status, created_at
			FROM messages WHERE contact_id = ? ORDER BY created_at DESC LIMIT ?
		`
		queryArgs = []interface{}{args[0], limit}
	} else {
		query = `
			SELECT id, direction, contact_id, channel_index, text, status, created_at
			FROM messages ORDER BY created_at DESC LIMIT ?
		`
		queryArgs = []interface{}{limit}
	}

	rows, err := db.Query(query, queryArgs...)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDIR\tCONTACT\tCHANNEL\tTEXT\tSTATUS\tCREATED")
	fmt.Fprintln(w, "--\t---\t-------\t-------\t----\t------\t-------")

	for rows.Next() {
		var id, text, status string
		var direction int
		var contactID sql.NullString
		var channelIndex sql.NullInt64
		var createdAt time.Time

		if err := rows.Scan(&id, &direction, &contactID, &channelIndex, &text, &status, &createdAt); err != nil {
			return err
		}

		dirStr := "recv"
		if direction == 0 {
			dirStr = "sent"
		}
		contactStr := "-"
		if contactID.Valid {
			contactStr = contactID.String
		}
		channelStr := "-"
		if channelIndex.Valid {
			channelStr = fmt.Sprintf("%d", channelIndex.Int64)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			id[:8], dirStr, contactStr, channelStr, truncate(text, 40), status,
			createdAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return nil
}

func showPending(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT message_id, ack_code, sent_at, timeout_secs, delivered, attempt
		FROM pending_acks ORDER BY sent_at DESC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MESSAGE\tACK CODE\tSENT AT\tTIMEOUT\tDELIVERED\tATTEMPT")
	fmt.Fprintln(w, "-------\t--------\t-------\t-------\t---------\t-------")

	for rows.Next() {
		var messageID string
		var ackCode int64
		var sentAt time.Time
		var timeoutSecs float64
		var delivered bool
		var attempt int

		if err := rows.Scan(&messageID, &ackCode, &sentAt, &timeoutSecs, &delivered, &attempt); err != nil {
			return err
		}

		fmt.Fprintf(w, "%s\t%d\t%s\t%.1fs\t%t\t%d\n",
			messageID[:8], ackCode, sentAt.Format("2006-01-02 15:04:05"), timeoutSecs, delivered, attempt)
	}
	w.Flush()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
