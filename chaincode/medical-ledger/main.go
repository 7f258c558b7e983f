package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medrex/medledger/chaincode/medical-ledger/medicalledger"
)

func main() {
	medicalLedgerChaincode, err := contractapi.NewChaincode(medicalledger.NewSmartContract())
	if err != nil {
		log.Panicf("Error creating MedicalLedger chaincode: %v", err)
	}

	if err := medicalLedgerChaincode.Start(); err != nil {
		log.Panicf("Error starting MedicalLedger chaincode: %v", err)
	}
}
