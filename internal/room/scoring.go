package room

const (
	LevelBonus    = 1000 // 每過一關
	LivesBonus    = 500  // 通關時每條剩餘生命
	parSeconds    = 300  // 超過此秒數不給時間獎勵
	pointsPerSecs = 10
)

// TimeBonus max(0, 300 − floor(levelTimeMs/1000)) * 10
func TimeBonus(levelTimeMs int64) int {
	if levelTimeMs < 0 {
		levelTimeMs = 0
	}
	seconds := int(levelTimeMs / 1000)
	return max(0, parSeconds-seconds) * pointsPerSecs
}

// LevelScore 單關得分：過關獎勵加時間獎勵。
func LevelScore(levelTimeMs int64) int {
	return LevelBonus + TimeBonus(levelTimeMs)
}
