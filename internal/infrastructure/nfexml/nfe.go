package nfexml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// Texto obligatorio de xNome del destinatário en homologação (NT 2011/002).
const HomologationRecipientName = "NF-E EMITIDA EM AMBIENTE DE HOMOLOGACAO - SEM VALOR FISCAL"

const processVersion = "fiscal-api 1.0"

// NFeBuilder arma el XML de la NF-e modelo 55 a partir de un DocumentIntent.
type NFeBuilder struct{}

// NewNFeBuilder crea el builder.
func NewNFeBuilder() *NFeBuilder {
	return &NFeBuilder{}
}

// Build genera <NFe><infNFe Id="NFe{chave}">, sin firma. fields debe ser el mismo
// conjunto con el que se calculó accessKey.
func (b *NFeBuilder) Build(in *entity.DocumentIntent, fields nfe.KeyFields, accessKey string) ([]byte, error) {
	const op = "nfexml.Build"
	if err := checkIntent(in); err != nil {
		return nil, domain.NewValidationError(op, err.Error(), nil)
	}
	if !nfe.Verify(accessKey) {
		return nil, domain.NewValidationError(op, "chave de acesso inválida", nil)
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	start(enc, "NFe", attr("xmlns", nfe.NamespaceNFe))
	start(enc, "infNFe", attr("versao", nfe.VersionNFe), attr("Id", "NFe"+accessKey))

	writeIde(enc, in, fields, accessKey)
	writeIssuer(enc, &in.Issuer)
	if in.Recipient != nil {
		writeRecipient(enc, in)
	}
	for i, it := range in.Items {
		writeItem(enc, i+1, it)
	}
	writeTotal(enc, in)

	start(enc, "transp")
	writeEl(enc, "modFrete", "9") // sem ocorrência de transporte
	end(enc, "transp")

	start(enc, "pag")
	start(enc, "detPag")
	writeEl(enc, "tPag", in.PaymentType)
	writeEl(enc, "vPag", formatDecimal(in.Total(), 2))
	end(enc, "detPag")
	end(enc, "pag")

	if info := text(in.AdditionalInfo, 5000); info != "" {
		start(enc, "infAdic")
		writeEl(enc, "infCpl", info)
		end(enc, "infAdic")
	}

	end(enc, "infNFe")
	end(enc, "NFe")
	return finish(enc, &buf)
}

// Check valida el intent sin generar XML, antes de reservar numeración.
func (b *NFeBuilder) Check(in *entity.DocumentIntent) error {
	if err := checkIntent(in); err != nil {
		return domain.NewValidationError("nfexml.Check", err.Error(), nil)
	}
	return nil
}

func checkIntent(in *entity.DocumentIntent) error {
	if in == nil {
		return fmt.Errorf("documento vacío")
	}
	if in.Kind != nfe.KindNFe {
		return fmt.Errorf("modelo %s no soportado en la emisión", in.Kind)
	}
	if len(nfe.OnlyDigits(in.Issuer.TaxID)) != 14 {
		return fmt.Errorf("el CNPJ del emisor debe tener 14 dígitos")
	}
	if in.Issuer.StateRegistration == "" {
		return fmt.Errorf("la IE del emisor es obligatoria")
	}
	if len(in.Issuer.Address.CityCode) != 7 {
		return fmt.Errorf("el código IBGE del municipio del emisor debe tener 7 dígitos")
	}
	if nfe.NormalizeText(in.NatureOfOperation) == "" {
		return fmt.Errorf("natOp (naturaleza de la operación) es obligatoria")
	}
	if len(in.Items) == 0 || len(in.Items) > 990 {
		return fmt.Errorf("la nota debe tener entre 1 y 990 ítems")
	}
	for i, it := range in.Items {
		if !it.Quantity.IsPositive() || it.UnitPrice.IsNegative() {
			return fmt.Errorf("ítem %d: la cantidad debe ser positiva y el valor no negativo", i+1)
		}
		if len(nfe.OnlyDigits(it.NCM)) != 8 || len(nfe.OnlyDigits(it.CFOP)) != 4 {
			return fmt.Errorf("ítem %d: NCM (8 dígitos) y CFOP (4 dígitos) son obligatorios", i+1)
		}
	}
	if in.PaymentType == "" {
		return fmt.Errorf("la forma de pago (tPag) es obligatoria")
	}
	if in.Recipient != nil {
		if n := len(nfe.OnlyDigits(in.Recipient.TaxID)); n != 11 && n != 14 {
			return fmt.Errorf("CNPJ/CPF del destinatario inválido")
		}
	}
	return nil
}

func writeIde(enc *xml.Encoder, in *entity.DocumentIntent, f nfe.KeyFields, accessKey string) {
	start(enc, "ide")
	writeEl(enc, "cUF", f.UF)
	writeEl(enc, "cNF", f.RandomCode)
	writeEl(enc, "natOp", text(in.NatureOfOperation, 60))
	writeEl(enc, "mod", f.Model)
	writeEl(enc, "serie", strconv.Itoa(f.Series))
	writeEl(enc, "nNF", strconv.Itoa(f.Number))
	writeEl(enc, "dhEmi", formatDateTime(in.IssuedAt))
	writeEl(enc, "tpNF", "1")
	writeEl(enc, "idDest", destinationKind(in))
	writeEl(enc, "cMunFG", in.Issuer.Address.CityCode)
	writeEl(enc, "tpImp", "1")
	writeEl(enc, "tpEmis", f.EmissionType)
	writeEl(enc, "cDV", accessKey[43:])
	writeEl(enc, "tpAmb", string(in.Environment))
	writeEl(enc, "finNFe", "1")
	writeEl(enc, "indFinal", finalConsumer(in))
	writeEl(enc, "indPres", "1")
	writeEl(enc, "procEmi", "0")
	writeEl(enc, "verProc", processVersion)
	end(enc, "ide")
}

// destinationKind: 1 operação interna, 2 interestadual.
func destinationKind(in *entity.DocumentIntent) string {
	if in.Recipient == nil || in.Recipient.Address.UF == "" || in.Recipient.Address.UF == in.Issuer.Address.UF {
		return "1"
	}
	return "2"
}

// finalConsumer: destinatário sem IE (ou sem destinatário) é consumidor final.
func finalConsumer(in *entity.DocumentIntent) string {
	if in.Recipient == nil || in.Recipient.StateRegistration == "" {
		return "1"
	}
	return "0"
}

func writeAddress(enc *xml.Encoder, tag string, a entity.Address) {
	start(enc, tag)
	writeEl(enc, "xLgr", text(a.Street, 60))
	writeEl(enc, "nro", text(a.Number, 60))
	writeEl(enc, "xBairro", text(a.District, 60))
	writeEl(enc, "cMun", a.CityCode)
	writeEl(enc, "xMun", text(a.CityName, 60))
	writeEl(enc, "UF", a.UF)
	writeOpt(enc, "CEP", nfe.OnlyDigits(a.ZIP))
	writeEl(enc, "cPais", "1058")
	writeEl(enc, "xPais", "Brasil")
	end(enc, tag)
}

func writeIssuer(enc *xml.Encoder, p *entity.Party) {
	start(enc, "emit")
	writeTaxID(enc, p.TaxID)
	writeEl(enc, "xNome", text(nfe.StripAccents(p.Name), 60))
	writeAddress(enc, "enderEmit", p.Address)
	writeEl(enc, "IE", nfe.OnlyDigits(p.StateRegistration))
	crt := p.TaxRegime
	if crt == "" {
		crt = "1"
	}
	writeEl(enc, "CRT", crt)
	end(enc, "emit")
}

func writeRecipient(enc *xml.Encoder, in *entity.DocumentIntent) {
	p := in.Recipient
	name := text(nfe.StripAccents(p.Name), 60)
	if in.Environment == nfe.Homologation {
		name = HomologationRecipientName
	}
	start(enc, "dest")
	writeTaxID(enc, p.TaxID)
	writeEl(enc, "xNome", name)
	if p.Address.CityCode != "" {
		writeAddress(enc, "enderDest", p.Address)
	}
	if p.StateRegistration != "" {
		writeEl(enc, "indIEDest", "1")
		writeEl(enc, "IE", nfe.OnlyDigits(p.StateRegistration))
	} else {
		writeEl(enc, "indIEDest", "9")
	}
	end(enc, "dest")
}

func writeItem(enc *xml.Encoder, n int, it entity.IntentItem) {
	qty := formatDecimal(it.Quantity, 4)
	price := formatDecimal(it.UnitPrice, 10)
	unit := text(it.Unit, 6)

	start(enc, "det", attr("nItem", strconv.Itoa(n)))
	start(enc, "prod")
	writeEl(enc, "cProd", text(it.Code, 60))
	writeEl(enc, "cEAN", "SEM GTIN")
	writeEl(enc, "xProd", text(it.Description, 120))
	writeEl(enc, "NCM", nfe.OnlyDigits(it.NCM))
	writeEl(enc, "CFOP", nfe.OnlyDigits(it.CFOP))
	writeEl(enc, "uCom", unit)
	writeEl(enc, "qCom", qty)
	writeEl(enc, "vUnCom", price)
	writeEl(enc, "vProd", formatDecimal(it.Total(), 2))
	writeEl(enc, "cEANTrib", "SEM GTIN")
	writeEl(enc, "uTrib", unit)
	writeEl(enc, "qTrib", qty)
	writeEl(enc, "vUnTrib", price)
	writeEl(enc, "indTot", "1")
	end(enc, "prod")

	// Grupos de tributação sem destaque; o cálculo de tributos fica fora deste módulo.
	start(enc, "imposto")
	start(enc, "ICMS")
	start(enc, "ICMSSN102")
	writeEl(enc, "orig", "0")
	writeEl(enc, "CSOSN", "102")
	end(enc, "ICMSSN102")
	end(enc, "ICMS")
	start(enc, "PIS")
	start(enc, "PISNT")
	writeEl(enc, "CST", "07")
	end(enc, "PISNT")
	end(enc, "PIS")
	start(enc, "COFINS")
	start(enc, "COFINSNT")
	writeEl(enc, "CST", "07")
	end(enc, "COFINSNT")
	end(enc, "COFINS")
	end(enc, "imposto")
	end(enc, "det")
}

func writeTotal(enc *xml.Encoder, in *entity.DocumentIntent) {
	zero := "0.00"
	total := formatDecimal(in.Total(), 2)
	start(enc, "total")
	start(enc, "ICMSTot")
	for _, tag := range []string{"vBC", "vICMS", "vICMSDeson", "vFCP", "vBCST", "vST", "vFCPST", "vFCPSTRet"} {
		writeEl(enc, tag, zero)
	}
	writeEl(enc, "vProd", total)
	for _, tag := range []string{"vFrete", "vSeg", "vDesc", "vII", "vIPI", "vIPIDevol", "vPIS", "vCOFINS", "vOutro"} {
		writeEl(enc, tag, zero)
	}
	writeEl(enc, "vNF", total)
	end(enc, "ICMSTot")
	end(enc, "total")
}

// ── Lote y documento processado ──────────────────────────────────────────────

// WrapBatch arma el enviNFe síncrono (indSinc=1) con las notas ya firmadas.
func WrapBatch(lotID string, signed ...[]byte) ([]byte, error) {
	digits := nfe.OnlyDigits(lotID)
	if digits == "" || len(digits) > 15 {
		return nil, domain.NewValidationError("nfexml.WrapBatch", "idLote debe tener de 1 a 15 dígitos", nil)
	}
	if len(signed) == 0 || len(signed) > 50 {
		return nil, domain.NewValidationError("nfexml.WrapBatch", "el lote debe tener de 1 a 50 notas", nil)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<enviNFe xmlns="%s" versao="%s"><idLote>%s</idLote><indSinc>1</indSinc>`,
		nfe.NamespaceNFe, nfe.VersionNFe, digits)
	for _, doc := range signed {
		buf.Write(bytes.TrimSpace(StripDeclaration(doc)))
	}
	buf.WriteString("</enviNFe>")
	return buf.Bytes(), nil
}

// WrapProcessed arma el nfeProc (nota firmada + protNFe) que se archiva como documento autorizado.
func WrapProcessed(signedNFe, protNFe []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<?xml version="1.0" encoding="UTF-8"?><nfeProc xmlns="%s" versao="%s">`,
		nfe.NamespaceNFe, nfe.VersionNFe)
	buf.Write(bytes.TrimSpace(StripDeclaration(signedNFe)))
	buf.Write(bytes.TrimSpace(StripDeclaration(protNFe)))
	buf.WriteString("</nfeProc>")
	return buf.Bytes()
}
