package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/brojonat/mintmarket/client"
	"github.com/brojonat/mintmarket/service/market"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// compileJQ compiles each --jq filter.
func compileJQ(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// writeJQ runs v through the filters in sequence and prints each final
// result as a line of JSON.
func writeJQ(w io.Writer, v interface{}, filters []*gojq.Code) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode output: %w", err)
	}

	inputs := []interface{}{doc}
	for _, code := range filters {
		var next []interface{}
		for _, in := range inputs {
			iter := code.Run(in)
			for {
				out, ok := iter.Next()
				if !ok {
					break
				}
				if err, isErr := out.(error); isErr {
					return fmt.Errorf("jq filter failed: %w", err)
				}
				next = append(next, out)
			}
		}
		inputs = next
	}

	for _, out := range inputs {
		if s, ok := out.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		line, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(line))
	}
	return nil
}

// emit prints v as JSON when --json or --jq is set and calls human otherwise.
func emit(c *cli.Context, v interface{}, human func(w io.Writer)) error {
	w := c.App.Writer
	if filters := c.StringSlice("jq"); len(filters) > 0 {
		compiled, err := compileJQ(filters)
		if err != nil {
			return err
		}
		return writeJQ(w, v, compiled)
	}
	if c.Bool("json") {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}
	human(w)
	return nil
}

func printOperation(w io.Writer, resp *client.OperationResponse) {
	op := resp.Operation
	fmt.Fprintf(w, "Operation:  %s\n", op.ID)
	fmt.Fprintf(w, "Action:     %s\n", op.Tag)
	fmt.Fprintf(w, "Status:     %s\n", op.Status)
	if op.TokenID != nil {
		fmt.Fprintf(w, "Token:      #%s\n", op.TokenID)
	}
	if op.CID != "" {
		fmt.Fprintf(w, "CID:        %s\n", op.CID)
	}
	if op.Price != nil {
		fmt.Fprintf(w, "Price:      %s ETH\n", op.Price)
	}
	if op.TxHash != "" {
		fmt.Fprintf(w, "Tx:         %s\n", op.TxHash)
	}
	if resp.RefreshError != "" {
		fmt.Fprintf(w, "Warning:    views not refreshed: %s\n", resp.RefreshError)
	}
}

func printCatalog(w io.Writer, cat *client.Catalog) {
	if len(cat.Entries) == 0 {
		fmt.Fprintln(w, "No tokens for sale")
		return
	}
	fmt.Fprintf(w, "%-10s %s\n", "TOKEN", "PRICE (ETH)")
	for _, e := range cat.Entries {
		fmt.Fprintf(w, "%-10s %s\n", "#"+e.TokenID.String(), e.Price)
	}
	printUpdated(w, cat.UpdatedAt)
}

func printTokens(w io.Writer, tokens *client.Tokens) {
	if len(tokens.Tokens) == 0 {
		fmt.Fprintf(w, "No tokens owned by %s\n", tokens.Account)
		return
	}
	fmt.Fprintf(w, "Tokens owned by %s\n", tokens.Account)
	fmt.Fprintf(w, "%-10s %-30s %s\n", "TOKEN", "NAME", "URI")
	for _, t := range tokens.Tokens {
		fmt.Fprintf(w, "%-10s %-30s %s\n", "#"+t.TokenID.String(), tokenName(t), t.URI)
	}
	printUpdated(w, tokens.UpdatedAt)
}

func tokenName(t market.OwnedToken) string {
	switch {
	case t.Metadata != nil:
		return truncate(t.Metadata.Name, 30)
	case t.MetadataError != "":
		return "(metadata unavailable)"
	default:
		return "-"
	}
}

func printHistory(w io.Writer, ops []market.OperationRecord) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "No operations recorded")
		return
	}
	fmt.Fprintf(w, "%-20s %-10s %-10s %-8s %s\n", "SUBMITTED", "ACTION", "STATUS", "TOKEN", "TX")
	for _, op := range ops {
		token := "-"
		if op.TokenID != nil {
			token = "#" + op.TokenID.String()
		}
		tx := op.TxHash
		if tx == "" {
			tx = "-"
		}
		fmt.Fprintf(w, "%-20s %-10s %-10s %-8s %s\n",
			op.SubmittedAt.Local().Format("2006-01-02 15:04:05"), op.Tag, op.Status, token, tx)
	}
}

func printUpdated(w io.Writer, at *time.Time) {
	if at != nil {
		fmt.Fprintf(w, "\nUpdated %s\n", at.Local().Format(time.RFC3339))
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
