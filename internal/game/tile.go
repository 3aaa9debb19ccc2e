package game

// Color identifies one of the four tile colors in a standard set.
type Color string

const (
	ColorRed    Color = "red"
	ColorBlue   Color = "blue"
	ColorBlack  Color = "black"
	ColorOrange Color = "orange"
)

// MaxTiles is the total tile count of a standard two-joker set:
// two copies of 1-13 in four colors plus two jokers.
const MaxTiles = 106

// Tile is one tile in a session. The ID is unique across the whole set and
// stable for the lifetime of a game; zones (hands, deck, board) move tiles
// around but never mint new identifiers.
type Tile struct {
	ID     int   `json:"id"`
	Color  Color `json:"color,omitempty"`
	Number int   `json:"number"`
	Joker  bool  `json:"joker,omitempty"`
}

// StandardSet returns the full 106-tile pool in deterministic order.
// Shuffling and dealing belong to the rules engine, not this package.
func StandardSet() []Tile {
	tiles := make([]Tile, 0, MaxTiles)
	id := 0
	for copies := 0; copies < 2; copies++ {
		for _, color := range []Color{ColorRed, ColorBlue, ColorBlack, ColorOrange} {
			for number := 1; number <= 13; number++ {
				tiles = append(tiles, Tile{ID: id, Color: color, Number: number})
				id++
			}
		}
	}
	tiles = append(tiles, Tile{ID: id, Joker: true}, Tile{ID: id + 1, Joker: true})
	return tiles
}
