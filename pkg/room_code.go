package meshcall

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var roomAdjectives = [...]string{
	"AUTUMN", "HIDDEN", "BITTER", "MISTY", "SILENT", "EMPTY", "DRY", "DARK", "SUMMER", "ICY",
	"DELICATE", "QUIET", "WHITE", "COOL", "SPRING", "WINTER", "PATIENT", "TWILIGHT", "DAWN",
	"CRIMSON", "WISPY", "WEATHERED", "BLUE", "BILLOWING", "BROKEN", "COLD", "DAMP", "FALLING",
	"FROSTY", "GREEN", "LONG", "LATE", "LINGERING", "BOLD", "LITTLE", "MORNING", "MUDDY", "OLD",
	"RED", "ROUGH", "STILL", "SMALL", "SPARKLING", "WANDERING", "WITHERED", "WILD", "BLACK",
	"YOUNG", "HOLY", "SOLITARY", "FRAGRANT", "AGED", "SNOWY", "PROUD", "FLORAL", "RESTLESS",
	"DIVINE", "POLISHED", "ANCIENT", "PURPLE", "LIVELY", "NAMELESS"}
var roomNouns = [...]string{
	"WATERFALL", "RIVER", "BREEZE", "MOON", "RAIN", "WIND", "SEA", "MORNING", "SNOW", "LAKE",
	"SUNSET", "PINE", "SHADOW", "LEAF", "DAWN", "GLITTER", "FOREST", "HILL", "CLOUD", "MEADOW",
	"SUN", "GLADE", "BIRD", "BROOK", "BUTTERFLY", "BUSH", "DEW", "DUST", "FIELD", "FIRE",
	"FLOWER", "FIREFLY", "FEATHER", "GRASS", "HAZE", "MOUNTAIN", "NIGHT", "POND", "DARKNESS",
	"SNOWFLAKE", "SILENCE", "SOUND", "SKY", "SHAPE", "SURF", "THUNDER", "VIOLET", "WATER",
	"WILDFLOWER", "WAVE", "RESONANCE", "WOOD", "DREAM", "CHERRY", "TREE", "FOG",
	"FROST", "VOICE", "PAPER", "FROG", "SMOKE", "STAR"}

// GenerateRoomCode makes a memorable, case-insensitive room code like
// MISTY-WATERFALL-42. Codes are matched uppercased everywhere, so the code is
// generated uppercased to begin with.
func GenerateRoomCode() string {
	return strings.Join([]string{
		roomAdjectives[randomIndex(len(roomAdjectives))],
		roomNouns[randomIndex(len(roomNouns))],
		fmt.Sprintf("%02d", randomIndex(100)),
	}, "-")
}

func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		// crypto/rand failing means the platform entropy source is broken
		panic(err)
	}
	return int(n.Int64())
}
