package modulation

// TicKind 非语言的声音小动作
type TicKind string

const (
	TicPause  TicKind = "pause"
	TicLaugh  TicKind = "laugh"
	TicSigh   TicKind = "sigh"
	TicFiller TicKind = "filler"
)

// Tic 把小动作放在回复文本的某个字节偏移处
type Tic struct {
	Kind   TicKind `json:"kind"`
	Offset int     `json:"offset"`
}

// drawTics 只影响表现，不改动平滑后的向量
func drawTics(text string, e AIEmotion, freq TicFrequencies, rnd Rand) []Tic {
	if rnd == nil || text == "" {
		return nil
	}

	var tics []Tic
	if rnd.Float64() < freq.Filler {
		tics = append(tics, Tic{Kind: TicFiller, Offset: 0})
	}
	if (e == Tender || e == Soothing) && rnd.Float64() < freq.Sigh {
		tics = append(tics, Tic{Kind: TicSigh, Offset: 0})
	}
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '?', '!', ',':
			if text[i+1] == ' ' && rnd.Float64() < freq.Pause {
				tics = append(tics, Tic{Kind: TicPause, Offset: i + 1})
			}
		}
	}
	if (e == Cheerful || e == Playful) && rnd.Float64() < freq.Laugh {
		tics = append(tics, Tic{Kind: TicLaugh, Offset: len(text)})
	}
	return tics
}
