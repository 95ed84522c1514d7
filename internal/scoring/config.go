package scoring

import "github.com/abhisek/lectio/internal/reading"

// Config holds the heuristic constants. They are empirical and uncalibrated,
// so every one of them can be overridden from configuration.
type Config struct {
	ComprehensionBase  float64 `koanf:"comprehension_base"`
	QuizWeight         float64 `koanf:"quiz_weight"`
	LongCheckpoint     int     `koanf:"long_checkpoint_chars"`
	ShortCheckpoint    int     `koanf:"short_checkpoint_chars"`
	CheckpointAdjust   float64 `koanf:"checkpoint_adjust"`
	HighUnknownRate    float64 `koanf:"high_unknown_rate"`
	HighUnknownPenalty float64 `koanf:"high_unknown_penalty"`
	LowUnknownRate     float64 `koanf:"low_unknown_rate"`
	LowUnknownBonus    float64 `koanf:"low_unknown_bonus"`

	// ProductionBuckets maps key-idea counts to a base production score.
	// The first bucket whose Below is greater than the count wins; the
	// last bucket is the ceiling.
	ProductionBuckets []Bucket      `koanf:"production_buckets"`
	SubmitBonuses     []LengthBonus `koanf:"submit_bonuses"`

	WordsPerMinute   float64                       `koanf:"words_per_minute"`
	ReadingSlack     float64                       `koanf:"reading_slack"`
	LayerMultipliers map[reading.AssetLayer]float64 `koanf:"layer_multipliers"`
	SlowFactor       float64                       `koanf:"slow_factor"`
	SlowPenalty      float64                       `koanf:"slow_penalty"`
	VerySlowFactor   float64                       `koanf:"very_slow_factor"`
	VerySlowPenalty  float64                       `koanf:"very_slow_penalty"`

	UnknownRatePenalties []RatePenalty `koanf:"unknown_rate_penalties"`
	TerseCheckpoint      int           `koanf:"terse_checkpoint_chars"`
	TerseFraction        float64       `koanf:"terse_fraction"`
	TersePenalty         float64       `koanf:"terse_penalty"`
	QuizMissPenalties    []RatePenalty `koanf:"quiz_miss_penalties"`
}

// Bucket is one step of a step function over a count.
type Bucket struct {
	Below int     `koanf:"below"`
	Score float64 `koanf:"score"`
}

// LengthBonus applies when an average text length exceeds Over.
type LengthBonus struct {
	Over  int     `koanf:"over"`
	Bonus float64 `koanf:"bonus"`
}

// RatePenalty applies when a rate exceeds Over. Lists are ordered from the
// highest threshold down and only the first match applies.
type RatePenalty struct {
	Over    float64 `koanf:"over"`
	Penalty float64 `koanf:"penalty"`
}

// DefaultConfig returns the stock heuristic constants.
func DefaultConfig() Config {
	return Config{
		ComprehensionBase:  50,
		QuizWeight:         40,
		LongCheckpoint:     50,
		ShortCheckpoint:    20,
		CheckpointAdjust:   10,
		HighUnknownRate:    2,
		HighUnknownPenalty: 15,
		LowUnknownRate:     0.5,
		LowUnknownBonus:    10,

		ProductionBuckets: []Bucket{
			{Below: 1, Score: 5},
			{Below: 3, Score: 25},
			{Below: 7, Score: 55},
			{Below: 12, Score: 80},
			{Score: 95},
		},
		SubmitBonuses: []LengthBonus{
			{Over: 200, Bonus: 15},
			{Over: 100, Bonus: 10},
			{Over: 50, Bonus: 5},
		},

		WordsPerMinute: 200,
		ReadingSlack:   1.5,
		LayerMultipliers: map[reading.AssetLayer]float64{
			reading.LayerL1: 0.8,
			reading.LayerL2: 1.0,
			reading.LayerL3: 1.3,
		},
		SlowFactor:      1.5,
		SlowPenalty:     15,
		VerySlowFactor:  2,
		VerySlowPenalty: 30,

		UnknownRatePenalties: []RatePenalty{
			{Over: 3, Penalty: 25},
			{Over: 2, Penalty: 15},
			{Over: 1, Penalty: 5},
		},
		TerseCheckpoint: 10,
		TerseFraction:   0.5,
		TersePenalty:    20,
		QuizMissPenalties: []RatePenalty{
			{Over: 0.6, Penalty: 20},
			{Over: 0.4, Penalty: 10},
		},
	}
}
