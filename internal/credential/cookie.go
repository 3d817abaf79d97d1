package credential

import (
	"net/http"
	"strings"
)

// ExtractCookiePairs はSet-Cookieヘッダー値からname=valueのペアだけを取り出し、
// "a=1; b=2" の形式に連結して返す。
//
// rawは改行区切りの複数ヘッダー、またはカンマで連結された1行のどちらでもよい。
// Path、Expires、HttpOnlyなどの属性は捨てる。同じ名前のCookieは後に現れた値を採用し、
// 並び順は最初に現れた位置を保つ。引用符で囲まれた値は引用符ごと送り返す。
// 同じ入力に対して常に同じ結果を返す。
func ExtractCookiePairs(raw string) string {
	var names []string
	values := make(map[string]string)

	for _, line := range splitSetCookie(raw) {
		c, err := http.ParseSetCookie(line)
		if err != nil || c.Name == "" {
			continue
		}
		if _, seen := values[c.Name]; !seen {
			names = append(names, c.Name)
		}
		value := c.Value
		if c.Quoted {
			value = `"` + value + `"`
		}
		values[c.Name] = value
	}

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+values[name])
	}
	return strings.Join(pairs, "; ")
}

// splitSetCookie はSet-Cookieの生文字列を1 Cookie = 1行に分割する。
// カンマ連結の場合、Expires属性の曜日直後のカンマでは分割しない。
func splitSetCookie(raw string) []string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		lines = append(lines, splitCommaJoined(line)...)
	}
	return lines
}

func splitCommaJoined(line string) []string {
	segments := strings.Split(line, ",")
	var out []string
	var current string
	for i, seg := range segments {
		if i == 0 {
			current = seg
			continue
		}
		if endsInsideExpires(current) || !startsNewCookie(seg) {
			current += "," + seg
			continue
		}
		out = append(out, strings.TrimSpace(current))
		current = seg
	}
	if strings.TrimSpace(current) != "" {
		out = append(out, strings.TrimSpace(current))
	}
	return out
}

// endsInsideExpires は文字列が "Expires=Wed" のように曜日で終わっているかを判定する。
func endsInsideExpires(s string) bool {
	idx := strings.LastIndex(s, ";")
	attr := strings.TrimSpace(s[idx+1:])
	if !strings.HasPrefix(strings.ToLower(attr), "expires=") {
		return false
	}
	value := strings.TrimSpace(attr[len("expires="):])
	return value != "" && !strings.ContainsAny(value, " :")
}

// startsNewCookie はカンマの後ろがname=valueで始まるかを判定する。
func startsNewCookie(seg string) bool {
	seg = strings.TrimSpace(seg)
	eq := strings.Index(seg, "=")
	if eq <= 0 {
		return false
	}
	semi := strings.Index(seg, ";")
	if semi >= 0 && semi < eq {
		return false
	}
	return !strings.ContainsAny(seg[:eq], " \t")
}
