package segment

import "time"

// Frame 是分段在内存与磁盘上的唯一列式表示；与 Row 的互转只发生在边界上。
type Frame struct {
	Times       []int64   `msgpack:"t"`
	Open        []float64 `msgpack:"o"`
	High        []float64 `msgpack:"h"`
	Low         []float64 `msgpack:"l"`
	Close       []float64 `msgpack:"c"`
	Volume      []float64 `msgpack:"v"`
	Bid         []float64 `msgpack:"b"`
	Ask         []float64 `msgpack:"a"`
	Dividend    []float64 `msgpack:"d"`
	Placeholder []bool    `msgpack:"p"`
}

// FrameOf converts sorted rows into columns.
func FrameOf(rows []Row) Frame {
	n := len(rows)
	f := Frame{
		Times:       make([]int64, 0, n),
		Open:        make([]float64, 0, n),
		High:        make([]float64, 0, n),
		Low:         make([]float64, 0, n),
		Close:       make([]float64, 0, n),
		Volume:      make([]float64, 0, n),
		Bid:         make([]float64, 0, n),
		Ask:         make([]float64, 0, n),
		Dividend:    make([]float64, 0, n),
		Placeholder: make([]bool, 0, n),
	}
	for _, r := range rows {
		f.append(r)
	}
	return f
}

func (f *Frame) append(r Row) {
	f.Times = append(f.Times, r.Time.UTC().UnixNano())
	f.Open = append(f.Open, r.Open)
	f.High = append(f.High, r.High)
	f.Low = append(f.Low, r.Low)
	f.Close = append(f.Close, r.Close)
	f.Volume = append(f.Volume, r.Volume)
	f.Bid = append(f.Bid, r.Bid)
	f.Ask = append(f.Ask, r.Ask)
	f.Dividend = append(f.Dividend, r.Dividend)
	f.Placeholder = append(f.Placeholder, r.Placeholder)
}

func (f Frame) Len() int {
	return len(f.Times)
}

// Consistent reports whether every column has the same length.
func (f Frame) Consistent() bool {
	n := len(f.Times)
	return len(f.Open) == n && len(f.High) == n && len(f.Low) == n && len(f.Close) == n &&
		len(f.Volume) == n && len(f.Bid) == n && len(f.Ask) == n && len(f.Dividend) == n &&
		len(f.Placeholder) == n
}

func (f Frame) Time(i int) time.Time {
	return time.Unix(0, f.Times[i]).UTC()
}

func (f Frame) Row(i int) Row {
	return Row{
		Time:        f.Time(i),
		Open:        f.Open[i],
		High:        f.High[i],
		Low:         f.Low[i],
		Close:       f.Close[i],
		Volume:      f.Volume[i],
		Bid:         f.Bid[i],
		Ask:         f.Ask[i],
		Dividend:    f.Dividend[i],
		Placeholder: f.Placeholder[i],
	}
}

func (f Frame) Rows() []Row {
	out := make([]Row, f.Len())
	for i := range out {
		out[i] = f.Row(i)
	}
	return out
}
