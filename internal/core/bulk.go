package core

import (
	"strings"
)

// VoucherInput is a parsed bulk-upload line ready for insertion.
type VoucherInput struct {
	URL    string
	Amount Money
}

// ParseBulkLines parses uploaded text into voucher inputs. Each non-blank line
// is expected to contain an amount followed by a URL, separated by whitespace,
// a comma, or a tab; commas and tabs are normalized to spaces before splitting,
// and everything after the amount joins back into the URL.
//
// Malformed lines (fewer than two fields, or a first field that does not parse
// as a positive amount) are skipped; they never abort the batch.
func ParseBulkLines(text string) []VoucherInput {
	var inputs []VoucherInput
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		normalized := strings.ReplaceAll(line, ",", " ")
		normalized = strings.ReplaceAll(normalized, "\t", " ")
		fields := strings.Fields(normalized)
		if len(fields) < 2 {
			continue
		}

		cents, err := ParseDecimalToCents(fields[0])
		if err != nil {
			continue
		}

		inputs = append(inputs, VoucherInput{
			URL:    strings.Join(fields[1:], " "),
			Amount: Money{Cents: cents},
		})
	}
	return inputs
}
