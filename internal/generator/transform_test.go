package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bidautoweb/post-generator-service/internal/catalog"
)

func sampleLot() catalog.Lot {
	return catalog.Lot{
		LotID:           77123456,
		BaseSite:        "copart",
		Make:            "Honda",
		Model:           "Accord",
		Series:          "Sport",
		Year:            2019,
		Odometer:        45210,
		OdoBrand:        "Actual",
		Status:          "Run and Drive",
		DamagePrimary:   "Front End",
		DamageSecondary: "",
		Keys:            true,
		Seller:          "",
		Document:        "Clean Title",
		DocumentOld:     "Salvage",
		Transmission:    "Automatic",
		PriceReserve:    5200,
	}
}

func TestLotPromptText(t *testing.T) {
	text := lotPromptText(sampleLot())

	assert.Contains(t, text, "#Lot ID: 77123456")
	assert.Contains(t, text, "Damage secondary: N/A")
	assert.Contains(t, text, "Seller: N/A")
	assert.Contains(t, text, "Keys: Yes")
	assert.Contains(t, text, "Odometer(odometer status: Actual): 45210 miles")
	assert.Contains(t, text, "Document: Clean Title, Document old: Salvage")
	assert.Contains(t, text, "Price reserve: 5200")
}

func TestLotPromptTextNoReserve(t *testing.T) {
	lot := sampleLot()
	lot.PriceReserve = 0
	lot.Keys = false

	text := lotPromptText(lot)
	assert.Contains(t, text, "Price reserve: N/A")
	assert.Contains(t, text, "Keys: No")
}

func TestLotsPromptNumbersEntries(t *testing.T) {
	first := sampleLot()
	second := sampleLot()
	second.LotID = 88000001

	prompt := lotsPrompt([]catalog.Lot{first, second})

	assert.True(t, strings.HasPrefix(prompt, "1. #Lot ID: 77123456"))
	assert.Contains(t, prompt, "2. #Lot ID: 88000001")
}

func TestDescribedLotsPrompt(t *testing.T) {
	prompt := describedLotsPrompt([]DescribedLot{{
		Lot:            sampleLot(),
		Description:    "clean body, minor front damage",
		ConditionScore: 7,
	}})

	assert.Contains(t, prompt, "INFO ABOUT LOT IMAGES:")
	assert.Contains(t, prompt, "Description: clean body, minor front damage")
	assert.Contains(t, prompt, "Images Score: 7/10")
}
