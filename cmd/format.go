package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joomcode/errorx"
)

// format renders reply the way redis-cli does.
func format(res interface{}) string {
	var sb strings.Builder
	formatTo(&sb, res, "")
	return strings.TrimSuffix(sb.String(), "\n")
}

func formatTo(sb *strings.Builder, res interface{}, indent string) {
	switch v := res.(type) {
	case nil:
		sb.WriteString("(nil)\n")
	case *errorx.Error:
		sb.WriteString("(error) " + v.Message() + "\n")
	case error:
		sb.WriteString("(error) " + v.Error() + "\n")
	case int64:
		sb.WriteString("(integer) " + strconv.FormatInt(v, 10) + "\n")
	case float64:
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64) + "\n")
	case string:
		sb.WriteString(strconv.Quote(v) + "\n")
	case []byte:
		sb.WriteString(strconv.Quote(string(v)) + "\n")
	case []interface{}:
		if len(v) == 0 {
			sb.WriteString("(empty array)\n")
			return
		}
		width := len(strconv.Itoa(len(v)))
		for i, el := range v {
			if i > 0 {
				sb.WriteString(indent)
			}
			num := strconv.Itoa(i + 1)
			prefix := strings.Repeat(" ", width-len(num)) + num + ") "
			sb.WriteString(prefix)
			formatTo(sb, el, indent+strings.Repeat(" ", len(prefix)))
		}
	default:
		fmt.Fprintf(sb, "(%T) %v\n", v, v)
	}
}
