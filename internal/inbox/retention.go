package inbox

import "time"

// AddBusinessDays はtからn営業日（土日を除く）後の同時刻を返す。
// 祝日は考慮しない。nが0以下の場合はtをそのまま返す。
func AddBusinessDays(t time.Time, n int) time.Time {
	added := 0
	for added < n {
		t = t.AddDate(0, 0, 1)
		switch t.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		added++
	}
	return t
}
