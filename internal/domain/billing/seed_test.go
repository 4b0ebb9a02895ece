package billing

import "testing"

func TestBuildSeedMergesRequestAndVisitIDs(t *testing.T) {
	lines := []*RequestLine{
		{VisitID: 7, ContractID: ptrInt64(1), InsuranceCardID: ptrInt64(10), EpisodeType: 2},
	}
	txs := []*Transaction{
		{VisitID: 7, ContractID: ptrInt64(1), CoverLetterID: ptrInt64(20)},
		{VisitID: 7, ContractID: ptrInt64(2), ContractorID: ptrInt64(30)},
		{VisitID: 7, ContractID: ptrInt64(3), Deleted: true},
	}

	seed := buildSeed(7, lines, txs)

	if seed.VisitID != 7 || seed.EpisodeType != 2 {
		t.Errorf("seed identity = visit %d episode %d", seed.VisitID, seed.EpisodeType)
	}
	// Contract 1 appears on both sides and must not repeat; the deleted
	// row's contract must not appear at all.
	if len(seed.ContractIDs) != 2 || seed.ContractIDs[0] != 1 || seed.ContractIDs[1] != 2 {
		t.Errorf("contract ids = %v, want [1 2]", seed.ContractIDs)
	}
	if len(seed.InsuranceCardIDs) != 1 || seed.InsuranceCardIDs[0] != 10 {
		t.Errorf("insurance card ids = %v, want [10]", seed.InsuranceCardIDs)
	}
	if len(seed.CoverLetterIDs) != 1 || seed.CoverLetterIDs[0] != 20 {
		t.Errorf("cover letter ids = %v, want [20]", seed.CoverLetterIDs)
	}
	if len(seed.ContractorIDs) != 1 || seed.ContractorIDs[0] != 30 {
		t.Errorf("contractor ids = %v, want [30]", seed.ContractorIDs)
	}
}
