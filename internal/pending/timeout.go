package pending

import "time"

const (
	// TimeoutUnit умножается на (overhead + размерная часть).
	TimeoutUnit = 1500 * time.Millisecond
	// TimeoutOverhead часть, не зависящая от размера, в единицах.
	TimeoutOverhead = 15.0
	// TimeoutPerByte единиц на байт закодированного фрейма.
	TimeoutPerByte = 0.1
)

// TimeoutFor считает дедлайн запроса по длине закодированного фрейма:
// большим payload пропорционально больше времени.
func TimeoutFor(encodedLen int) time.Duration {
	if encodedLen < 0 {
		encodedLen = 0
	}
	units := TimeoutOverhead + TimeoutPerByte*float64(encodedLen)
	return time.Duration(float64(TimeoutUnit) * units)
}
