package indicators

import "fmt"

type RSIConfig struct {
	Period int `yaml:"period"`
}

type EMAConfig struct {
	Periods []int `yaml:"periods"`
}

type MACDConfig struct {
	Fast   int `yaml:"fast"`
	Slow   int `yaml:"slow"`
	Signal int `yaml:"signal"`
}

type BollingerConfig struct {
	Period int     `yaml:"period"`
	StdDev float64 `yaml:"std_dev"`
}

type StochasticConfig struct {
	KPeriod int `yaml:"k_period"`
	DPeriod int `yaml:"d_period"`
}

type ATRConfig struct {
	Period int `yaml:"period"`
}

// Config holds the periods for every indicator family the engine computes
type Config struct {
	RSI        RSIConfig        `yaml:"rsi"`
	EMA        EMAConfig        `yaml:"ema"`
	MACD       MACDConfig       `yaml:"macd"`
	Bollinger  BollingerConfig  `yaml:"bollinger"`
	Stochastic StochasticConfig `yaml:"stochastic"`
	ATR        ATRConfig        `yaml:"atr"`
}

func DefaultConfig() Config {
	return Config{
		RSI:        RSIConfig{Period: 14},
		EMA:        EMAConfig{Periods: []int{9, 21, 50}},
		MACD:       MACDConfig{Fast: 12, Slow: 26, Signal: 9},
		Bollinger:  BollingerConfig{Period: 20, StdDev: 2.0},
		Stochastic: StochasticConfig{KPeriod: 14, DPeriod: 3},
		ATR:        ATRConfig{Period: 14},
	}
}

// LongestLookback is the number of candles needed for every indicator to be available
func (c Config) LongestLookback() int {
	longest := c.RSI.Period + 1
	for _, p := range c.EMA.Periods {
		longest = max(longest, p)
	}
	longest = max(longest, c.MACD.Slow+c.MACD.Signal-1)
	longest = max(longest, c.Bollinger.Period)
	longest = max(longest, c.Stochastic.KPeriod+c.Stochastic.DPeriod-1)
	longest = max(longest, c.ATR.Period+1)
	return longest
}

func (c Config) Validate() error {
	if c.RSI.Period < 1 {
		return fmt.Errorf("rsi period must be positive, got %d", c.RSI.Period)
	}
	for _, p := range c.EMA.Periods {
		if p < 1 {
			return fmt.Errorf("ema periods must be positive, got %d", p)
		}
	}
	if c.MACD.Fast < 1 || c.MACD.Slow < 1 || c.MACD.Signal < 1 {
		return fmt.Errorf("macd periods must be positive")
	}
	if c.MACD.Fast >= c.MACD.Slow {
		return fmt.Errorf("macd fast period %d must be shorter than slow period %d", c.MACD.Fast, c.MACD.Slow)
	}
	if c.Bollinger.Period < 2 || c.Bollinger.StdDev <= 0 {
		return fmt.Errorf("bollinger needs period >= 2 and positive std_dev")
	}
	if c.Stochastic.KPeriod < 1 || c.Stochastic.DPeriod < 1 {
		return fmt.Errorf("stochastic periods must be positive")
	}
	if c.ATR.Period < 1 {
		return fmt.Errorf("atr period must be positive, got %d", c.ATR.Period)
	}
	return nil
}
